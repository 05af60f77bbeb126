package bootconfig

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/onkernel/iconograph/lib/images"
	"github.com/onkernel/iconograph/lib/images/imagestest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	bootDir  string
	imageDir string
	store    *images.Store
	gen      *Generator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	bootDir := t.TempDir()
	imageDir := filepath.Join(bootDir, "iconograph")
	store, err := images.NewStore(images.StoreConfig{
		Dir:       imageDir,
		ImageType: "prod",
		Labeler:   images.StaticLabeler("ICO 100"),
	}, nil)
	require.NoError(t, err)

	return &testEnv{
		bootDir:  bootDir,
		imageDir: imageDir,
		store:    store,
		gen:      NewGenerator(Config{ImageDir: imageDir, BootDir: bootDir}, store, nil),
	}
}

func TestImagePath(t *testing.T) {
	tests := []struct {
		name     string
		imageDir string
		bootDir  string
		expected string
		wantErr  bool
	}{
		{"nested", "/isodevice/iconograph", "/isodevice", "/iconograph", false},
		{"deeply nested", "/isodevice/a/b", "/isodevice", "/a/b", false},
		{"same dir", "/isodevice", "/isodevice", "/", false},
		{"trailing slash", "/isodevice/iconograph/", "/isodevice/", "/iconograph", false},
		{"sibling", "/images", "/isodevice", "", true},
		{"prefix but not nested", "/isodevice2/iconograph", "/isodevice", "", true},
		{"parent", "/", "/isodevice", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ImagePath(tt.imageDir, tt.bootDir)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrImageDirNotNested)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestHotkeys(t *testing.T) {
	for _, n := range []int{1, 10, 11, 36, 37, len(Hotkeys)} {
		keys := make([]byte, 0, n)
		for i := 0; i < n; i++ {
			k, err := HotkeyFor(i)
			require.NoError(t, err)
			keys = append(keys, k)
		}
		assert.Equal(t, Hotkeys[:n], string(keys))
	}

	_, err := HotkeyFor(len(Hotkeys))
	assert.ErrorIs(t, err, ErrTooManyImages)
	assert.Equal(t, byte('0'), Hotkeys[0])
	assert.Equal(t, byte('a'), Hotkeys[10])
	assert.Equal(t, byte('A'), Hotkeys[36])
}

func TestRender(t *testing.T) {
	menu := Menu{
		Timeout: 5,
		Default: "200.iso (ICO 200)",
		Entries: []Entry{
			{Label: "200.iso (ICO 200)", Hotkey: '0', ISOPath: "/iconograph/200.iso"},
		},
	}

	expected := `
set timeout=5
set default="200.iso (ICO 200)"

menuentry "200.iso (ICO 200)" --hotkey=0 {
  search --no-floppy --file --set=root /iconograph/200.iso
  iso_path="/iconograph/200.iso"
  export iso_path
  loopback loop "/iconograph/200.iso"
  set root=(loop)
  configfile /boot/grub/loopback.cfg
}
`
	assert.Equal(t, expected, string(Render(menu)))
}

func TestRender_QuotesLabels(t *testing.T) {
	out := string(Render(Menu{Timeout: 5, Default: `a "b" $c`}))
	assert.Contains(t, out, `set default="a \"b\" \$c"`)
}

func TestGenerate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	imagestest.WriteISO(t, env.imageDir, 100, "ICO 100")
	imagestest.WriteISO(t, env.imageDir, 300, "ICO 300")
	imagestest.WriteISO(t, env.imageDir, 200, "ICO 200")
	require.NoError(t, env.store.SetCurrent(ctx, 300))

	require.NoError(t, env.gen.Generate(ctx))

	data, err := os.ReadFile(filepath.Join(env.bootDir, "grub", "grub.cfg"))
	require.NoError(t, err)
	cfg := string(data)

	assert.Contains(t, cfg, `set default="300.iso (ICO 300)"`)
	assert.Contains(t, cfg, `menuentry "300.iso (ICO 300)" --hotkey=0 {`)
	assert.Contains(t, cfg, `menuentry "200.iso (ICO 200)" --hotkey=1 {`)
	assert.Contains(t, cfg, `menuentry "100.iso (ICO 100)" --hotkey=2 {`)
	assert.Less(t, strings.Index(cfg, "300.iso"), strings.Index(cfg, "200.iso (ICO 200)\" --hotkey"))
	assert.Contains(t, cfg, "search --no-floppy --file --set=root /iconograph/100.iso")
}

func TestGenerate_SkipsNonCanonicalNames(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	imagestest.WriteISO(t, env.imageDir, 100, "ICO 100")
	imagestest.WriteISO(t, env.imageDir, 200, "ICO 200")
	require.NoError(t, os.Rename(filepath.Join(env.imageDir, "200.iso"), filepath.Join(env.imageDir, "0200.iso")))

	menu, err := env.gen.Build(ctx)
	require.NoError(t, err)
	require.Len(t, menu.Entries, 1)
	assert.Equal(t, "/iconograph/100.iso", menu.Entries[0].ISOPath)

	// Every entry names a file that exists
	for _, e := range menu.Entries {
		_, err := os.Stat(filepath.Join(env.bootDir, e.ISOPath))
		assert.NoError(t, err)
	}
}

func TestGenerate_DefaultIsBootedWithoutPointer(t *testing.T) {
	env := newTestEnv(t)
	imagestest.WriteISO(t, env.imageDir, 100, "ICO 100")
	imagestest.WriteISO(t, env.imageDir, 200, "ICO 200")

	menu, err := env.gen.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "100.iso (ICO 100)", menu.Default)
}

func TestGenerate_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	imagestest.WriteISO(t, env.imageDir, 100, "ICO 100")
	imagestest.WriteISO(t, env.imageDir, 200, "ICO 200")

	require.NoError(t, env.gen.Generate(ctx))
	first, err := os.ReadFile(env.gen.MenuPath())
	require.NoError(t, err)

	require.NoError(t, env.gen.Generate(ctx))
	second, err := os.ReadFile(env.gen.MenuPath())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestGenerate_FailureBeforeRenameKeepsPreviousMenu(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	imagestest.WriteISO(t, env.imageDir, 100, "ICO 100")
	require.NoError(t, env.gen.Generate(ctx))
	previous, err := os.ReadFile(env.gen.MenuPath())
	require.NoError(t, err)

	// A new image appears, but the process "dies" between write and rename
	imagestest.WriteISO(t, env.imageDir, 200, "ICO 200")
	crash := errors.New("killed")
	env.gen.rename = func(oldpath, newpath string) error {
		// The temp file is complete at this point
		data, err := os.ReadFile(oldpath)
		require.NoError(t, err)
		assert.Contains(t, string(data), "200.iso")
		return crash
	}

	err = env.gen.Generate(ctx)
	require.ErrorIs(t, err, crash)

	after, err := os.ReadFile(env.gen.MenuPath())
	require.NoError(t, err)
	assert.Equal(t, previous, after)

	// No temp files left in the grub directory
	entries, err := os.ReadDir(filepath.Dir(env.gen.MenuPath()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "grub.cfg", entries[0].Name())
}

func TestGenerate_FirstRunFailureLeavesNoFile(t *testing.T) {
	env := newTestEnv(t)
	imagestest.WriteISO(t, env.imageDir, 100, "ICO 100")
	env.gen.rename = func(oldpath, newpath string) error { return errors.New("killed") }

	require.Error(t, env.gen.Generate(context.Background()))
	_, err := os.Stat(env.gen.MenuPath())
	assert.True(t, os.IsNotExist(err))
}

func TestGenerate_NotNested(t *testing.T) {
	env := newTestEnv(t)
	imagestest.WriteISO(t, env.imageDir, 100, "ICO 100")
	gen := NewGenerator(Config{ImageDir: env.imageDir, BootDir: t.TempDir()}, env.store, nil)

	err := gen.Generate(context.Background())
	assert.ErrorIs(t, err, ErrImageDirNotNested)
}

func TestGenerate_CurrentNotFound(t *testing.T) {
	env := newTestEnv(t)
	imagestest.WriteISO(t, env.imageDir, 200, "ICO 200")

	err := env.gen.Generate(context.Background())
	assert.ErrorIs(t, err, images.ErrCurrentNotFound)
	_, statErr := os.Stat(env.gen.MenuPath())
	assert.True(t, os.IsNotExist(statErr))
}

type fakeSource struct {
	imgs []images.Image
}

func (f *fakeSource) Enumerate(ctx context.Context) ([]images.Image, error) { return f.imgs, nil }
func (f *fakeSource) Current(ctx context.Context) (*images.Image, error)    { return &f.imgs[0], nil }

func TestBuild_TooManyImages(t *testing.T) {
	src := &fakeSource{}
	for i := 0; i <= len(Hotkeys); i++ {
		src.imgs = append(src.imgs, images.Image{Timestamp: int64(1000 + i), VolumeID: "V"})
	}
	bootDir := t.TempDir()
	gen := NewGenerator(Config{ImageDir: filepath.Join(bootDir, "img"), BootDir: bootDir}, src, nil)

	_, err := gen.Build(context.Background())
	assert.ErrorIs(t, err, ErrTooManyImages)
}

func TestBuild_KeysFollowSortedOrder(t *testing.T) {
	src := &fakeSource{}
	for i := 0; i < 12; i++ {
		src.imgs = append(src.imgs, images.Image{Timestamp: int64(1000 + i), VolumeID: "V"})
	}
	bootDir := t.TempDir()
	gen := NewGenerator(Config{ImageDir: filepath.Join(bootDir, "img"), BootDir: bootDir}, src, nil)

	menu, err := gen.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, menu.Entries, 12)

	keys := make([]byte, 0, 12)
	for i, e := range menu.Entries {
		keys = append(keys, e.Hotkey)
		assert.Equal(t, "/img/"+images.FilenameFor(int64(1011-i)), e.ISOPath)
	}
	assert.Equal(t, Hotkeys[:12], string(keys))
}
