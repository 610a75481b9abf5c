package export

// ============================================================================
// 職責說明：
// 1. 將匯出內容寫入本機檔案（local-storage 匯出）
// 2. 使用原子性寫入（temp file + rename）防止讀到寫一半的檔案
// 3. 讀回時自動辨識 gzip 壓縮
// ============================================================================

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrCorruptedExport 匯出檔無法解析
var ErrCorruptedExport = errors.New("export: file is corrupted")

// FileSink 本機檔案匯出
type FileSink struct {
	path string     // 匯出檔案路徑
	mu   sync.Mutex // 保護檔案操作
}

// NewFileSink 建立檔案匯出，compressed 時路徑自動加上 .gz
func NewFileSink(path string, compressed bool) *FileSink {
	if compressed && !strings.HasSuffix(path, ".gz") {
		path += ".gz"
	}
	return &FileSink{path: path}
}

// Path 實際寫入的路徑
func (s *FileSink) Path() string {
	return s.path
}

// Export 原子性寫入
//
// 流程：
//  1. 寫入同目錄的臨時檔案（.tmp）
//  2. os.Rename 原子性替換原始檔案
func (s *FileSink) Export(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create export dir: %w", err)
		}
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp export: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		// 重新命名失敗，清理臨時檔案
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename export: %w", err)
	}
	return nil
}

// ReadFile 讀取 FileSink 寫出的檔案，gzip 內容會自動解壓
func ReadFile(path string) (Payload, error) {
	var p Payload

	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("failed to read export: %w", err)
	}
	if bytes.HasPrefix(data, gzipMagic) {
		if data, err = Decompress(data); err != nil {
			return p, fmt.Errorf("%w: %v", ErrCorruptedExport, err)
		}
	}

	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrCorruptedExport, err)
	}
	return p, nil
}
