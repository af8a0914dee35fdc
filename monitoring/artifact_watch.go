package monitoring

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ArtifactWatcher 监控模型文件的变化
//
// 模型只在启动时加载一次，文件被改写后不会热加载，这里只记录告警和计数，
// 提示需要重启服务。
type ArtifactWatcher struct {
	targets map[string]string // 绝对路径 -> 目标名
	logger  *zap.Logger
	metrics *MetricsCollector
	watcher *fsnotify.Watcher
}

// NewArtifactWatcher 创建文件监控器，paths 为 目标名 -> 文件路径。
// 监控的是文件所在目录，这样原子替换（rename）也能被发现。
func NewArtifactWatcher(paths map[string]string, logger *zap.Logger, metrics *MetricsCollector) (*ArtifactWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	targets := make(map[string]string, len(paths))
	dirs := make(map[string]bool)
	for target, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			watcher.Close()
			return nil, err
		}
		targets[abs] = target
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	return &ArtifactWatcher{
		targets: targets,
		logger:  logger,
		metrics: metrics,
		watcher: watcher,
	}, nil
}

// Run 处理文件事件直到 ctx 结束，返回时关闭底层 watcher。
func (aw *ArtifactWatcher) Run(ctx context.Context) error {
	defer aw.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-aw.watcher.Events:
			if !ok {
				return nil
			}
			aw.handleEvent(event)
		case err, ok := <-aw.watcher.Errors:
			if !ok {
				return nil
			}
			aw.logger.Warn("artifact watcher error", zap.Error(err))
		}
	}
}

func (aw *ArtifactWatcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}
	target, ok := aw.targets[abs]
	if !ok {
		return
	}

	aw.logger.Warn("model artifact changed on disk; restart to load it",
		zap.String("target", target),
		zap.String("path", event.Name),
		zap.String("op", event.Op.String()),
	)
	if aw.metrics != nil {
		aw.metrics.IncrCounter("model_artifact_changes_total", 1, map[string]string{"target": target})
	}
}
