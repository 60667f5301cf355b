package modelcache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BaSui01/modelserve/types"
)

// DirFetcher 从本地目录读取模型工件。
//
// 文件命名约定: <modelID>@<version>，例如 sentiment-lexicon@3。
// 同一模型存在多个版本文件时取版本号最大的那个（字符串序）。
// 无版本后缀的裸文件 <modelID> 视为版本 "1"。
type DirFetcher struct {
	dir string
}

// NewDirFetcher 创建基于目录的模型获取器。
func NewDirFetcher(dir string) *DirFetcher {
	return &DirFetcher{dir: dir}
}

// FetchModel 实现 Fetcher。
func (f *DirFetcher) FetchModel(ctx context.Context, modelID string) ([]byte, string, error) {
	if modelID == "" || strings.ContainsAny(modelID, "@/") {
		return nil, "", types.NewError(types.ErrInvalidRequest, fmt.Sprintf("invalid model id %q", modelID))
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, "", types.NewError(types.ErrNotFound, fmt.Sprintf("artifact dir unreadable: %v", err)).WithCause(err)
	}

	best := ""
	version := ""
	bare := false
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if name == modelID {
			bare = true
			continue
		}
		id, ver, ok := strings.Cut(name, "@")
		if !ok || id != modelID || ver == "" {
			continue
		}
		if version == "" || ver > version {
			best = name
			version = ver
		}
	}
	if best == "" && bare {
		best = modelID
		version = "1"
	}
	if best == "" {
		return nil, "", types.NewError(types.ErrNotFound, fmt.Sprintf("no artifact for model %q in %s", modelID, f.dir))
	}

	data, err := os.ReadFile(filepath.Join(f.dir, best))
	if err != nil {
		return nil, "", types.NewError(types.ErrCacheRead, fmt.Sprintf("read artifact %s: %v", best, err)).WithCause(err)
	}
	return data, version, nil
}
