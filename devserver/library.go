package main

import (
	"context"
	"errors"
	"io/ioutil"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"moria.us/msd2mid/msd"
)

const rescanDelay = 100 * time.Millisecond

// A scanState is one snapshot of the watched directory: the song names found,
// or the error that ended the scan.
type scanState struct {
	err   error
	songs []string
}

// A library tracks the .msd files in one directory and hands out converted
// copies. Watchers are notified of every rescan through listener channels.
type library struct {
	dir       string
	lock      sync.RWMutex
	state     *scanState
	listeners []chan<- *scanState
}

func newLibrary(dir string) *library {
	return &library{dir: dir}
}

// convert reads and converts one song by base name.
func (lb *library) convert(name string, style msd.LoopStyle) ([]byte, error) {
	name = strings.TrimSuffix(name, ".mid")
	data, err := ioutil.ReadFile(filepath.Join(lb.dir, name+".msd"))
	if err != nil {
		return nil, err
	}
	return msd.Convert(data, style)
}

func (lb *library) scan() *scanState {
	fs, err := filepath.Glob(filepath.Join(lb.dir, "*.msd"))
	if err != nil {
		return &scanState{err: err}
	}
	songs := make([]string, 0, len(fs))
	for _, f := range fs {
		base := filepath.Base(f)
		songs = append(songs, strings.TrimSuffix(base, filepath.Ext(base)))
	}
	sort.Strings(songs)
	return &scanState{songs: songs}
}

// watch rescans the directory whenever its contents change, with a short
// debounce so editors writing in multiple steps only trigger one rescan.
func (lb *library) watch(ctx context.Context) {
	if err := lb.watchFunc(ctx); err != nil {
		logrus.Fatalln("watch:", err)
	}
}

func (lb *library) watchFunc(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(lb.dir); err != nil {
		return err
	}
	lb.publish(lb.scan())
	var d delay
	for {
		select {
		case ev, ok := <-fw.Events:
			if !ok {
				return errors.New("watcher channel closed")
			}
			if strings.EqualFold(filepath.Ext(ev.Name), ".msd") {
				d.trigger(rescanDelay)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("watcher channel closed")
			}
			return err
		case <-d.channel:
			d.channel = nil
			if rem := d.remainingTime(); rem > 0 {
				d.trigger(rem)
			} else {
				lb.publish(lb.scan())
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// publish stores the new state and fans it out. A listener that cannot keep
// up is closed and dropped.
func (lb *library) publish(s *scanState) {
	lb.lock.Lock()
	lb.state = s
	ls := lb.listeners
	var pos int
	for _, l := range ls {
		select {
		case l <- s:
			ls[pos] = l
			pos++
		default:
			close(l)
		}
	}
	lb.listeners = ls[:pos]
	for ; pos < len(ls); pos++ {
		ls[pos] = nil
	}
	lb.lock.Unlock()
}

func (lb *library) addListener(ch chan<- *scanState) *scanState {
	if ch == nil {
		panic("nil channel")
	}
	lb.lock.Lock()
	d := lb.state
	lb.listeners = append(lb.listeners, ch)
	lb.lock.Unlock()
	return d
}

func (lb *library) removeListener(ch chan<- *scanState) {
	lb.lock.Lock()
	for i, l := range lb.listeners {
		if l == ch {
			lb.listeners[i] = lb.listeners[len(lb.listeners)-1]
			lb.listeners[len(lb.listeners)-1] = nil
			lb.listeners = lb.listeners[:len(lb.listeners)-1]
			close(ch)
			break
		}
	}
	lb.lock.Unlock()
}

// getState returns the current state, waiting for the first scan if needed.
func (lb *library) getState(ctx context.Context) *scanState {
	lb.lock.RLock()
	d := lb.state
	lb.lock.RUnlock()
	if d != nil {
		return d
	}
	ch := make(chan *scanState, 1)

	lb.lock.Lock()
	if d = lb.state; d != nil {
		lb.lock.Unlock()
		return d
	}
	lb.listeners = append(lb.listeners, ch)
	lb.lock.Unlock()
	defer lb.removeListener(ch)

	for {
		select {
		case d, ok := <-ch:
			if !ok {
				// Dropped for falling behind; publish stored the state
				// before fanning out.
				lb.lock.RLock()
				d = lb.state
				lb.lock.RUnlock()
				return d
			}
			if d != nil {
				return d
			}
		case <-ctx.Done():
			return nil
		}
	}
}
