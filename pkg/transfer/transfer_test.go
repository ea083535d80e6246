package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/scopedfs/internal/testenv"
	"github.com/marmos91/scopedfs/pkg/access"
	"github.com/marmos91/scopedfs/pkg/file"
	"github.com/marmos91/scopedfs/pkg/platform"
	"github.com/marmos91/scopedfs/pkg/storagepath"
)

type recordingMetrics struct {
	mu          sync.Mutex
	outcomes    []string
	conflicts   map[string]int
	fastRenames int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{conflicts: make(map[string]int)}
}

func (m *recordingMetrics) RecordTransferStart(string) {}

func (m *recordingMetrics) RecordTransferEnd(_, outcome string, _ int, _ int64, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *recordingMetrics) RecordConflicts(_, scope string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts[scope] += count
}

func (m *recordingMetrics) RecordFastRename(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fastRenames++
}

type fixture struct {
	dev     *testenv.Device
	engine  *Engine
	metrics *recordingMetrics
}

func newFixture(t *testing.T, space platform.SpaceProvider, mounts platform.MountResolver) *fixture {
	dev := testenv.New(t)
	m := newRecordingMetrics()
	return &fixture{
		dev:     dev,
		engine:  NewEngine(dev.Layout, space, mounts, m),
		metrics: m,
	}
}

func (f *fixture) raw(t *testing.T, compact string) *file.Raw {
	return file.NewRaw(f.dev.Fs, f.dev.Layout, f.dev.Abs(t, compact))
}

func (f *fixture) run(t *testing.T, opts Options, cb Callbacks, target file.File, sources ...file.File) Result {
	tr := f.engine.NewTransfer(Request{Sources: sources, Target: target, Options: opts})
	return Drive(context.Background(), tr, cb, nil)
}

func TestCopyDirectory(t *testing.T) {
	f := newFixture(t, platform.StaticSpace(1<<30), nil)
	f.dev.WriteFile(t, "primary:Documents/A/x.txt", []byte("x"))
	f.dev.WriteFile(t, "primary:Documents/A/sub/y.txt", []byte("yy"))
	f.dev.Mkdir(t, "primary:Documents/A/empty")

	res := f.run(t, Options{}, Callbacks{}, f.raw(t, "primary:Download"), f.raw(t, "primary:Documents/A"))
	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.TotalFiles)
	assert.Equal(t, 2, res.TransferredFiles)
	assert.EqualValues(t, 3, res.Bytes)
	assert.Equal(t, "A", res.Target.Name())

	assert.Equal(t, "x", string(f.dev.ReadFile(t, "primary:Download/A/x.txt")))
	assert.Equal(t, "yy", string(f.dev.ReadFile(t, "primary:Download/A/sub/y.txt")))
	assert.True(t, f.dev.Exists(t, "primary:Download/A/empty"))
	assert.True(t, f.dev.Exists(t, "primary:Documents/A/x.txt"), "copy keeps sources")
	assert.Equal(t, []string{"success"}, f.metrics.outcomes)
}

func TestCopyFileSet(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.dev.WriteFile(t, "primary:Documents/a.txt", []byte("a"))
	f.dev.WriteFile(t, "primary:Music/b.mp3", []byte("b"))

	res := f.run(t, Options{}, Callbacks{}, f.raw(t, "primary:Download"),
		f.raw(t, "primary:Documents/a.txt"), f.raw(t, "primary:Music/b.mp3"))
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.TransferredFiles)
	assert.Equal(t, "Download", res.Target.Name())
	assert.ElementsMatch(t, []string{"a.txt", "b.mp3"}, f.dev.Names(t, "primary:Download"))
}

func TestCopyAutoMergesEmptyDirectory(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.dev.WriteFile(t, "primary:Documents/A/x.txt", []byte("x"))
	f.dev.Mkdir(t, "primary:Download/A")

	asked := false
	res := f.run(t, Options{}, Callbacks{
		OnParentConflicts: func([]ParentConflict) { asked = true },
	}, f.raw(t, "primary:Download"), f.raw(t, "primary:Documents/A"))

	require.NoError(t, res.Err)
	assert.False(t, asked)
	assert.Equal(t, []string{"x.txt"}, f.dev.Names(t, "primary:Download/A"))
	assert.Zero(t, f.metrics.conflicts["parent"])
}

func TestCopyNoSpaceOnTarget(t *testing.T) {
	f := newFixture(t, platform.StaticSpace(150), nil)
	f.dev.WriteFile(t, "primary:Documents/A/1.bin", bytes.Repeat([]byte{1}, 100))
	f.dev.WriteFile(t, "primary:Documents/A/2.bin", bytes.Repeat([]byte{2}, 100))

	var asked *FreeSpaceCheck
	res := f.run(t, Options{}, Callbacks{
		OnFreeSpace: func(c *FreeSpaceCheck) bool { asked = c; return c.Fits() },
	}, f.raw(t, "primary:Download"), f.raw(t, "primary:Documents/A"))

	require.ErrorIs(t, res.Err, file.ErrNoSpaceOnTarget)
	assert.False(t, res.Success)
	assert.Zero(t, res.TransferredFiles)
	require.NotNil(t, asked)
	assert.EqualValues(t, 150, asked.Free)
	assert.EqualValues(t, 200, asked.Required)
	assert.Empty(t, f.dev.Names(t, "primary:Download"), "nothing is written")
	assert.Equal(t, []string{file.NoSpaceOnTarget.String()}, f.metrics.outcomes)
}

// cancelOnOpen cancels a context when one path is opened.
type cancelOnOpen struct {
	afero.Fs
	path   string
	cancel context.CancelFunc
}

func (c *cancelOnOpen) Open(name string) (afero.File, error) {
	if name == c.path {
		c.cancel()
	}
	return c.Fs.Open(name)
}

func TestCopyCanceledAfterKFiles(t *testing.T) {
	const n, k = 5, 2
	f := newFixture(t, nil, nil)
	for i := 0; i < n; i++ {
		f.dev.WriteFile(t, fmt.Sprintf("primary:Documents/A/f%d.txt", i), []byte(strings.Repeat("d", 1000)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fsys := &cancelOnOpen{Fs: f.dev.Fs, path: f.dev.Abs(t, fmt.Sprintf("primary:Documents/A/f%d.txt", k)), cancel: cancel}

	src := file.NewRaw(fsys, f.dev.Layout, f.dev.Abs(t, "primary:Documents/A"))
	dst := file.NewRaw(fsys, f.dev.Layout, f.dev.Abs(t, "primary:Download"))
	tr := f.engine.NewTransfer(Request{Sources: []file.File{src}, Target: dst, Options: Options{ChunkSize: 100}})
	res := Drive(ctx, tr, Callbacks{}, nil)

	require.ErrorIs(t, res.Err, file.ErrCanceled)
	assert.False(t, res.Success)
	assert.Equal(t, k, res.TransferredFiles)
	assert.Equal(t, n, res.TotalFiles)
	for i := 0; i < k; i++ {
		assert.True(t, f.dev.Exists(t, fmt.Sprintf("primary:Download/A/f%d.txt", i)))
	}
	assert.False(t, f.dev.Exists(t, fmt.Sprintf("primary:Download/A/f%d.txt", k)))
	assert.Equal(t, StateFailed, tr.State())
}

// cancelOnWrite cancels a context after the first write to one path.
type cancelOnWrite struct {
	afero.Fs
	path   string
	cancel context.CancelFunc
}

func (c *cancelOnWrite) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	f, err := c.Fs.OpenFile(name, flag, perm)
	if err != nil || name != c.path {
		return f, err
	}
	return &cancelingFile{File: f, cancel: c.cancel}, nil
}

type cancelingFile struct {
	afero.File
	cancel context.CancelFunc
}

func (f *cancelingFile) Write(p []byte) (int, error) {
	n, err := f.File.Write(p)
	f.cancel()
	return n, err
}

func TestCancelKeepsReusedEmptyFile(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.dev.WriteFile(t, "primary:Documents/a.txt", []byte(strings.Repeat("d", 1000)))
	f.dev.WriteFile(t, "primary:Download/a.txt", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fsys := &cancelOnWrite{Fs: f.dev.Fs, path: f.dev.Abs(t, "primary:Download/a.txt"), cancel: cancel}

	src := file.NewRaw(fsys, f.dev.Layout, f.dev.Abs(t, "primary:Documents/a.txt"))
	dst := file.NewRaw(fsys, f.dev.Layout, f.dev.Abs(t, "primary:Download"))
	tr := f.engine.NewTransfer(Request{Sources: []file.File{src}, Target: dst, Options: Options{ChunkSize: 100}})
	res := Drive(ctx, tr, Callbacks{}, nil)

	require.ErrorIs(t, res.Err, file.ErrCanceled)
	assert.Zero(t, res.TransferredFiles)
	require.True(t, f.dev.Exists(t, "primary:Download/a.txt"), "a file the transfer did not create survives")
	assert.Empty(t, f.dev.ReadFile(t, "primary:Download/a.txt"))
}

func TestParentConflictResolutions(t *testing.T) {
	setup := func(t *testing.T) *fixture {
		f := newFixture(t, nil, nil)
		f.dev.WriteFile(t, "primary:Documents/A/x.txt", []byte("new"))
		f.dev.WriteFile(t, "primary:Download/A/old.txt", []byte("old"))
		return f
	}
	resolve := func(r Resolution) Callbacks {
		return Callbacks{OnParentConflicts: func(cs []ParentConflict) {
			for i := range cs {
				cs[i].Resolution = r
			}
		}}
	}

	t.Run("Skip", func(t *testing.T) {
		f := setup(t)
		res := f.run(t, Options{}, resolve(Skip), f.raw(t, "primary:Download"), f.raw(t, "primary:Documents/A"))
		require.NoError(t, res.Err)
		assert.Zero(t, res.TotalFiles)
		assert.Equal(t, []string{"old.txt"}, f.dev.Names(t, "primary:Download/A"))
	})

	t.Run("Replace", func(t *testing.T) {
		f := setup(t)
		res := f.run(t, Options{}, resolve(Replace), f.raw(t, "primary:Download"), f.raw(t, "primary:Documents/A"))
		require.NoError(t, res.Err)
		assert.Equal(t, []string{"x.txt"}, f.dev.Names(t, "primary:Download/A"))
	})

	t.Run("Merge", func(t *testing.T) {
		f := setup(t)
		res := f.run(t, Options{}, resolve(Merge), f.raw(t, "primary:Download"), f.raw(t, "primary:Documents/A"))
		require.NoError(t, res.Err)
		assert.ElementsMatch(t, []string{"old.txt", "x.txt"}, f.dev.Names(t, "primary:Download/A"))
	})

	t.Run("CreateNew", func(t *testing.T) {
		f := setup(t)
		res := f.run(t, Options{}, resolve(CreateNew), f.raw(t, "primary:Download"), f.raw(t, "primary:Documents/A"))
		require.NoError(t, res.Err)
		assert.Equal(t, "A (1)", res.Target.Name())
		assert.Equal(t, []string{"x.txt"}, f.dev.Names(t, "primary:Download/A (1)"))
		assert.Equal(t, 1, f.metrics.conflicts["parent"])
	})
}

func TestContentConflictsAreBatched(t *testing.T) {
	setup := func(t *testing.T) *fixture {
		f := newFixture(t, nil, nil)
		f.dev.WriteFile(t, "primary:Documents/A/x.txt", []byte("new x"))
		f.dev.WriteFile(t, "primary:Documents/A/sub/y.txt", []byte("new y"))
		f.dev.WriteFile(t, "primary:Documents/A/z.txt", []byte("z"))
		f.dev.WriteFile(t, "primary:Download/A/x.txt", []byte("old x"))
		f.dev.WriteFile(t, "primary:Download/A/sub/y.txt", []byte("old y"))
		return f
	}
	run := func(t *testing.T, f *fixture, r Resolution) (Result, int) {
		batches := 0
		res := f.run(t, Options{}, Callbacks{
			OnParentConflicts: func(cs []ParentConflict) { cs[0].Resolution = Merge },
			OnContentConflicts: func(cs []ContentConflict) {
				batches++
				assert.Len(t, cs, 2)
				for i := range cs {
					cs[i].Resolution = r
				}
			},
		}, f.raw(t, "primary:Download"), f.raw(t, "primary:Documents/A"))
		return res, batches
	}

	t.Run("Skip", func(t *testing.T) {
		f := setup(t)
		res, batches := run(t, f, Skip)
		require.NoError(t, res.Err)
		assert.Equal(t, 1, batches)
		assert.True(t, res.Success)
		assert.Equal(t, 1, res.TransferredFiles)
		assert.Equal(t, 2, res.SkippedFiles)
		assert.Equal(t, "old x", string(f.dev.ReadFile(t, "primary:Download/A/x.txt")))
		assert.Equal(t, "z", string(f.dev.ReadFile(t, "primary:Download/A/z.txt")))
	})

	t.Run("Replace", func(t *testing.T) {
		f := setup(t)
		res, _ := run(t, f, Replace)
		require.NoError(t, res.Err)
		assert.Equal(t, 3, res.TransferredFiles)
		assert.Equal(t, "new x", string(f.dev.ReadFile(t, "primary:Download/A/x.txt")))
		assert.Equal(t, "new y", string(f.dev.ReadFile(t, "primary:Download/A/sub/y.txt")))
	})

	t.Run("CreateNew", func(t *testing.T) {
		f := setup(t)
		res, _ := run(t, f, CreateNew)
		require.NoError(t, res.Err)
		assert.Equal(t, "old x", string(f.dev.ReadFile(t, "primary:Download/A/x.txt")))
		assert.Equal(t, "new x", string(f.dev.ReadFile(t, "primary:Download/A/x (1).txt")))
		assert.Equal(t, "new y", string(f.dev.ReadFile(t, "primary:Download/A/sub/y (1).txt")))
		assert.Equal(t, 2, f.metrics.conflicts["content"])
	})
}

func TestMoveRenamesOnSameMount(t *testing.T) {
	f := newFixture(t, platform.StaticSpace(0), platform.StaticMounts{"/storage/emulated/0"})
	f.dev.WriteFile(t, "primary:Documents/A/x.txt", []byte("x"))
	f.dev.WriteFile(t, "primary:Documents/A/sub/y.txt", []byte("y"))

	res := f.run(t, Options{DeleteSource: true}, Callbacks{
		OnFreeSpace: func(*FreeSpaceCheck) bool { t.Error("rename needs no space"); return false },
	}, f.raw(t, "primary:Download"), f.raw(t, "primary:Documents/A"))

	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.TransferredFiles)
	assert.Equal(t, 1, f.metrics.fastRenames)
	assert.Equal(t, "y", string(f.dev.ReadFile(t, "primary:Download/A/sub/y.txt")))
	assert.False(t, f.dev.Exists(t, "primary:Documents/A"))
}

func TestMoveMergePrunesEmptiedSources(t *testing.T) {
	f := newFixture(t, nil, platform.StaticMounts{"/storage/emulated/0"})
	f.dev.WriteFile(t, "primary:Documents/A/x.txt", []byte("x"))
	f.dev.WriteFile(t, "primary:Documents/A/sub/y.txt", []byte("y"))
	f.dev.WriteFile(t, "primary:Download/A/old.txt", []byte("old"))

	res := f.run(t, Options{DeleteSource: true}, Callbacks{
		OnParentConflicts: func(cs []ParentConflict) { cs[0].Resolution = Merge },
	}, f.raw(t, "primary:Download"), f.raw(t, "primary:Documents/A"))

	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.ElementsMatch(t, []string{"old.txt", "sub", "x.txt"}, f.dev.Names(t, "primary:Download/A"))
	assert.False(t, f.dev.Exists(t, "primary:Documents/A"))
}

func TestMoveAcrossMountsCopiesThenDeletes(t *testing.T) {
	f := newFixture(t, nil, platform.StaticMounts{"/storage/emulated/0", "/storage/" + string(testenv.Removable)})
	f.dev.WriteFile(t, string(testenv.Removable)+":A/x.txt", []byte("x"))
	f.dev.WriteFile(t, string(testenv.Removable)+":A/keep.tmp", []byte("tmp"))

	res := f.run(t, Options{DeleteSource: true, Exclude: []string{"*.tmp"}}, Callbacks{},
		f.raw(t, "primary:Download"), f.raw(t, string(testenv.Removable)+":A"))

	require.NoError(t, res.Err)
	assert.Zero(t, f.metrics.fastRenames)
	assert.Equal(t, []string{"x.txt"}, f.dev.Names(t, "primary:Download/A"))
	assert.Equal(t, []string{"keep.tmp"}, f.dev.Names(t, string(testenv.Removable)+":A"), "excluded files stay behind")
}

func TestMoveBetweenTreesFallsBackToCopy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, platform.StaticMounts{"/storage/emulated/0"})
	f.dev.Grant(t, "primary:Documents", true)
	f.dev.Grant(t, "primary:Download", true)
	f.dev.WriteFile(t, "primary:Documents/A/x.txt", []byte("x"))
	f.dev.WriteFile(t, "primary:Documents/A/sub/y.txt", []byte("y"))

	caps := platform.CapabilitiesFor(30, false)
	resolver := access.NewResolver(access.NewOracle(caps, f.dev.Permissions, f.dev.Grants, testenv.Package), access.Backends{
		Fs:        f.dev.Fs,
		Layout:    f.dev.Layout,
		External:  f.dev.External,
		Downloads: f.dev.Downloads,
	})
	src, err := resolver.Find(ctx, storagepath.VolumePrimary, "Documents/A", true)
	require.NoError(t, err)
	dst, err := resolver.Find(ctx, storagepath.VolumePrimary, "Download", true)
	require.NoError(t, err)
	require.Equal(t, file.KindTree, src.Kind())
	require.Equal(t, file.KindTree, dst.Kind())

	res := f.run(t, Options{DeleteSource: true}, Callbacks{}, dst, src)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.TransferredFiles)
	assert.Equal(t, file.KindTree, res.Target.Kind())
	assert.Equal(t, "y", string(f.dev.ReadFile(t, "primary:Download/A/sub/y.txt")))
	assert.False(t, f.dev.Exists(t, "primary:Documents/A"))
}

func TestValidation(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.dev.WriteFile(t, "primary:Download/A/x.txt", []byte("x"))
	f.dev.WriteFile(t, "primary:Download/f.txt", []byte("f"))

	tests := []struct {
		name   string
		target string
		source string
		opts   Options
		want   error
	}{
		{"same path", "primary:Download", "primary:Download/A", Options{}, file.ErrSameSourceTargetPath},
		{"target is source", "primary:Download/A", "primary:Download/A", Options{}, file.ErrSameSourceTargetPath},
		{"target inside source", "primary:Download/A", "primary:Download", Options{}, file.ErrSameSourceTargetPath},
		{"missing source", "primary:Music", "primary:Download/missing", Options{}, file.ErrSourceNotFound},
		{"missing target", "primary:Nowhere", "primary:Download/A", Options{}, file.ErrTargetFolderNotFound},
		{"target is a file", "primary:Download/f.txt", "primary:Download/A", Options{}, file.ErrTargetFolderNotFound},
		{"bad pattern", "primary:Music", "primary:Download/A", Options{Exclude: []string{"[a"}}, file.ErrInvalidPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.run(t, tt.opts, Callbacks{}, f.raw(t, tt.target), f.raw(t, tt.source))
			assert.ErrorIs(t, res.Err, tt.want)
			assert.False(t, res.Success)
		})
	}
}

func TestExcludeAndSkipEmptyFiles(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.dev.WriteFile(t, "primary:Documents/A/a.txt", []byte("a"))
	f.dev.WriteFile(t, "primary:Documents/A/b.tmp", []byte("b"))
	f.dev.WriteFile(t, "primary:Documents/A/cache/c.txt", []byte("c"))
	f.dev.WriteFile(t, "primary:Documents/A/empty.txt", nil)

	res := f.run(t, Options{SkipEmptyFiles: true, Exclude: []string{"**/*.tmp", "cache"}}, Callbacks{},
		f.raw(t, "primary:Download"), f.raw(t, "primary:Documents/A"))
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.TotalFiles)
	assert.Equal(t, []string{"a.txt"}, f.dev.Names(t, "primary:Download/A"))
}

func TestProgressOnlyAboveThreshold(t *testing.T) {
	for _, tt := range []struct {
		name string
		size int
		want bool
	}{
		{"small", 1024, false},
		{"large", ProgressThreshold + 1024*1024, true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, nil)
			f.dev.WriteFile(t, "primary:Documents/big.bin", bytes.Repeat([]byte{7}, tt.size))

			var reports []Progress
			res := f.run(t, Options{ProgressInterval: time.Nanosecond}, Callbacks{
				OnProgress: func(p Progress) { reports = append(reports, p) },
			}, f.raw(t, "primary:Download"), f.raw(t, "primary:Documents/big.bin"))
			require.NoError(t, res.Err)

			if !tt.want {
				assert.Empty(t, reports)
				return
			}
			require.NotEmpty(t, reports)
			last := reports[len(reports)-1]
			assert.EqualValues(t, tt.size, last.TotalBytes)
			assert.LessOrEqual(t, last.Percent, 100.0)
			assert.Greater(t, last.BytesMoved, int64(0))
		})
	}
}

func TestProgressInterval(t *testing.T) {
	for _, tt := range []struct {
		name     string
		interval time.Duration
		want     bool
	}{
		{"every chunk", 0, true},
		{"disabled", -1, false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, nil)
			size := ProgressThreshold + 4*DefaultChunkSize
			f.dev.WriteFile(t, "primary:Documents/big.bin", bytes.Repeat([]byte{7}, size))

			var reports []Progress
			res := f.run(t, Options{ProgressInterval: tt.interval}, Callbacks{
				OnProgress: func(p Progress) { reports = append(reports, p) },
			}, f.raw(t, "primary:Download"), f.raw(t, "primary:Documents/big.bin"))
			require.NoError(t, res.Err)

			if !tt.want {
				assert.Empty(t, reports)
				return
			}
			require.NotEmpty(t, reports)
			assert.EqualValues(t, size, reports[len(reports)-1].BytesMoved)
		})
	}
}

func TestNextAndResume(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, platform.StaticSpace(1<<20), nil)
	f.dev.WriteFile(t, "primary:Documents/a.txt", []byte("a"))

	tr := f.engine.NewTransfer(Request{
		Sources: []file.File{f.raw(t, "primary:Documents/a.txt")},
		Target:  f.raw(t, "primary:Download"),
	})
	assert.ErrorIs(t, tr.Resume(), ErrNotSuspended)

	var seen []string
	for {
		s := tr.Next(ctx)
		seen = append(seen, fmt.Sprintf("%T", s))
		if done, ok := s.(*Done); ok {
			require.NoError(t, done.Result.Err)
			assert.Equal(t, "a.txt", done.Result.Target.Name())
			break
		}
		assert.Same(t, s, tr.Next(ctx), "unanswered suspensions repeat")
		require.NoError(t, tr.Resume())
	}
	assert.Equal(t, []string{"*transfer.ValidateHook", "*transfer.PrepareHook", "*transfer.FreeSpaceCheck", "*transfer.Done"}, seen)
	assert.ErrorIs(t, tr.Resume(), ErrNotSuspended)
	assert.NotEmpty(t, tr.ID())
}

func TestAbortAtValidation(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.dev.WriteFile(t, "primary:Documents/a.txt", []byte("a"))

	res := f.run(t, Options{}, Callbacks{
		OnValidate: func(*ValidateHook) bool { return false },
	}, f.raw(t, "primary:Download"), f.raw(t, "primary:Documents/a.txt"))

	assert.ErrorIs(t, res.Err, file.ErrCanceled)
	assert.Empty(t, f.dev.Names(t, "primary:Download"))
}

func TestSerialDispatcherRunsCallbacksInOrder(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.dev.WriteFile(t, "primary:Documents/a.txt", []byte("a"))
	f.dev.WriteFile(t, "primary:Download/a.txt", []byte("old"))

	d := NewSerialDispatcher(4)
	defer d.Close()

	var calls []string
	tr := f.engine.NewTransfer(Request{
		Sources: []file.File{f.raw(t, "primary:Documents/a.txt")},
		Target:  f.raw(t, "primary:Download"),
	})
	res := Drive(context.Background(), tr, Callbacks{
		OnValidate: func(*ValidateHook) bool { calls = append(calls, "validate"); return true },
		OnPrepare:  func(*PrepareHook) { calls = append(calls, "prepare") },
		OnContentConflicts: func(cs []ContentConflict) {
			calls = append(calls, "content")
			cs[0].Resolution = Replace
		},
		OnDone: func(Result) { calls = append(calls, "done") },
	}, d)

	require.NoError(t, res.Err)
	assert.Equal(t, []string{"validate", "prepare", "content", "done"}, calls)
	assert.Equal(t, "a", string(f.dev.ReadFile(t, "primary:Download/a.txt")))
}

func TestOpenSourceSniffsUnknownTypes(t *testing.T) {
	f := newFixture(t, nil, nil)
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)
	f.dev.WriteFile(t, "primary:Documents/blob", png)

	tr := f.engine.NewTransfer(Request{})
	rc, mimeType, err := tr.openSource(context.Background(), &entry{src: f.raw(t, "primary:Documents/blob")})
	require.NoError(t, err)
	defer rc.Close()

	assert.Equal(t, "image/png", mimeType)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, png, data)
}

func TestFastWalkOnHostFilesystem(t *testing.T) {
	fsys := afero.NewBasePathFs(afero.NewOsFs(), t.TempDir())
	layout := storagepath.DefaultLayout(testenv.Package)
	write := func(p, data string) {
		require.NoError(t, fsys.MkdirAll(layout.PrimaryRoot+"/"+p[:strings.LastIndex(p, "/")], 0o755))
		require.NoError(t, afero.WriteFile(fsys, layout.PrimaryRoot+"/"+p, []byte(data), 0o644))
	}
	write("Documents/A/x.txt", "x")
	write("Documents/A/deep/er/y.txt", "y")
	write("Documents/A/skip/z.txt", "z")
	require.NoError(t, fsys.MkdirAll(layout.PrimaryRoot+"/Download", 0o755))

	src := file.NewRaw(fsys, layout, layout.PrimaryRoot+"/Documents/A")
	_, ok := hostPath(src)
	require.True(t, ok)

	engine := NewEngine(layout, nil, nil, nil)
	tr := engine.NewTransfer(Request{
		Sources: []file.File{src},
		Target:  file.NewRaw(fsys, layout, layout.PrimaryRoot+"/Download"),
		Options: Options{Exclude: []string{"skip"}},
	})
	res := Drive(context.Background(), tr, Callbacks{}, nil)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.TransferredFiles)

	data, err := afero.ReadFile(fsys, layout.PrimaryRoot+"/Download/A/deep/er/y.txt")
	require.NoError(t, err)
	assert.Equal(t, "y", string(data))
	exists, err := afero.Exists(fsys, layout.PrimaryRoot+"/Download/A/skip")
	require.NoError(t, err)
	assert.False(t, exists)
}
