package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/spaghettifunk/renderengine/engine/assets/loaders"
	"github.com/spaghettifunk/renderengine/engine/core"
	"github.com/spaghettifunk/renderengine/engine/resources"
)

// Updater reloads a resource from a loader. The render engine implements it.
type Updater interface {
	UpdateResource(h resources.Handle, loader resources.Loader) error
}

type AssetInfo struct {
	ID         uuid.UUID
	Path       string
	Type       AssetType
	Handle     resources.Handle
	Loader     resources.Loader
	LastLoaded time.Time
	Reloads    int
}

/**
 * @brief AssetManager resolves asset names under the base directory to
 * loaders and, with hot reload enabled, watches the tracked files: a write
 * reloads every resource tracking the file.
 */
type AssetManager struct {
	basePath  string
	hotReload bool
	retries   uint64
	updater   Updater

	assets map[string][]*AssetInfo
	mutex  sync.RWMutex

	done     chan struct{}
	stopped  chan struct{}
	fsnotify *fsnotify.Watcher
	isClosed bool
}

func NewAssetManager(cfg core.AssetsConfig, updater Updater) (*AssetManager, error) {
	base, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, err
	}
	return &AssetManager{
		basePath:  base,
		hotReload: cfg.HotReload,
		retries:   cfg.LoadRetries,
		updater:   updater,
		assets:    make(map[string][]*AssetInfo),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}, nil
}

// Initialize starts watching the base directory when hot reload is enabled.
func (am *AssetManager) Initialize() error {
	if !am.hotReload {
		return nil
	}
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	am.fsnotify = fsWatch
	if err := am.watchRecursive(am.basePath); err != nil {
		fsWatch.Close()
		return err
	}
	go am.start()
	core.LogInfo("watching %s for asset changes", am.basePath)
	return nil
}

// Shutdown stops the watcher.
func (am *AssetManager) Shutdown() error {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return errors.New("asset manager already closed")
	}
	am.isClosed = true
	am.mutex.Unlock()

	close(am.done)
	if am.fsnotify != nil {
		<-am.stopped
	}
	return nil
}

// Path resolves an asset name against the base directory.
func (am *AssetManager) Path(name string) string {
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(am.basePath, name)
}

// Loader returns the loader for the named asset, with retries when configured.
func (am *AssetManager) Loader(name string) (resources.Loader, error) {
	path := am.Path(name)
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	l, err := LoaderFor(path)
	if err != nil {
		return nil, err
	}
	if am.retries > 0 {
		return loaders.WithRetry(l, am.retries), nil
	}
	return l, nil
}

/**
 * @brief Tracks the named asset as the source of h. When the file changes
 * h is updated from loader.
 */
func (am *AssetManager) Track(name string, h resources.Handle, loader resources.Loader) (uuid.UUID, error) {
	if loader == nil {
		return uuid.Nil, fmt.Errorf("%s: %w", name, core.ErrNoLoader)
	}
	path := am.Path(name)
	info := &AssetInfo{
		ID:         uuid.New(),
		Path:       path,
		Type:       DetermineAssetType(path),
		Handle:     h,
		Loader:     loader,
		LastLoaded: time.Now(),
	}

	am.mutex.Lock()
	defer am.mutex.Unlock()
	if am.isClosed {
		return uuid.Nil, core.ErrEngineStopped
	}
	am.assets[path] = append(am.assets[path], info)
	core.LogDebug("tracking %s asset %s as %s", info.Type, path, info.ID)
	return info.ID, nil
}

// Untrack forgets a tracked asset.
func (am *AssetManager) Untrack(id uuid.UUID) bool {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	for path, infos := range am.assets {
		for i, info := range infos {
			if info.ID != id {
				continue
			}
			infos = append(infos[:i:i], infos[i+1:]...)
			if len(infos) == 0 {
				delete(am.assets, path)
			} else {
				am.assets[path] = infos
			}
			return true
		}
	}
	return false
}

// Assets returns a snapshot of the tracked assets sorted by path.
func (am *AssetManager) Assets() []AssetInfo {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	var out []AssetInfo
	for _, infos := range am.assets {
		for _, info := range infos {
			out = append(out, *info)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].LastLoaded.Before(out[j].LastLoaded)
	})
	return out
}

// Reload updates every resource tracking the named asset.
func (am *AssetManager) Reload(name string) error {
	return am.reload(am.Path(name))
}

func (am *AssetManager) reload(path string) error {
	am.mutex.Lock()
	infos := append([]*AssetInfo(nil), am.assets[path]...)
	now := time.Now()
	for _, info := range infos {
		info.LastLoaded = now
		info.Reloads++
	}
	am.mutex.Unlock()

	var errs []error
	for _, info := range infos {
		if err := am.updater.UpdateResource(info.Handle, info.Loader); err != nil {
			errs = append(errs, fmt.Errorf("reloading %s: %w", path, err))
			continue
		}
		core.LogDebug("reloading %s", path)
	}
	return errors.Join(errs...)
}

func (am *AssetManager) start() {
	defer close(am.stopped)
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			s, err := os.Stat(e.Name)
			if err == nil && s != nil && s.IsDir() {
				if e.Op&fsnotify.Create != 0 {
					if err := am.watchRecursive(e.Name); err != nil {
						core.LogWarn("watching %s: %v", e.Name, err)
					}
				}
				continue
			}
			// Handle create or modify events
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				if err := am.reload(filepath.Clean(e.Name)); err != nil {
					core.LogError(err.Error())
				}
			}

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %v", err)

		case <-am.done:
			am.fsnotify.Close()
			return
		}
	}
}

// watchRecursive adds all directories under the given one to the watch list.
func (am *AssetManager) watchRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			return nil
		}
		return am.fsnotify.Add(walkPath)
	})
}
