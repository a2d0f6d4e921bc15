// File: settings/settings_test.go
package settings

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestPrecedence walks one key through every source from lowest to highest
func TestPrecedence(t *testing.T) {
	schema := NewSchema("").AddOption("KEY", Option{
		Default: "d",
		Save:    boolPtr(false),
	})
	s := newSettings(t, schema)

	get := func() string {
		v, err := s.Get("KEY")
		require.NoError(t, err)
		return v.(string)
	}

	assert.Equal(t, "d", get(), "defaults are the floor")

	require.NoError(t, s.AddConfigFile(writeTempFile(t, "one.conf", "key = f1\n")))
	assert.Equal(t, "f1", get(), "file config beats defaults")

	require.NoError(t, s.AddConfigFile(writeTempFile(t, "two.conf", "key = f2\n")))
	assert.Equal(t, "f2", get(), "most recently added file config wins")

	t.Setenv("APPTEST_KEY", "e")
	s.LoadEnv("APPTEST_")
	assert.Equal(t, "e", get(), "environment beats file configs")

	require.NoError(t, s.Set("KEY", "n"))
	assert.Equal(t, "n", get(), "runtime override beats environment")

	require.NoError(t, s.SetUserFile(writeTempFile(t, "user.conf", "key = u\n")))
	assert.Equal(t, "u", get(), "user file beats runtime overrides")

	s.SetOptions(map[string]any{"KEY": "o"})
	assert.Equal(t, "o", get(), "options beat everything")

	s.SetOptions(nil)
	assert.Equal(t, "u", get(), "clearing options falls back to the user file")
}

// TestSolidKeys tests keys pinned to their default
func TestSolidKeys(t *testing.T) {
	schema := NewSchema("").AddOption("VERSION", Option{
		Default: "1.0",
		Solid:   true,
	})
	s := newSettings(t, schema)

	assert.ErrorIs(t, s.Set("VERSION", "2.0"), ErrSolidKey)

	t.Setenv("SOLIDTEST_VERSION", "3.0")
	s.LoadEnv("SOLIDTEST_")
	s.SetOptions(map[string]any{"version": "4.0"})

	v, err := s.Get("VERSION")
	require.NoError(t, err)
	assert.Equal(t, "1.0", v, "solid keys ignore every override source")
}

// TestSetBehavior tests validation gating, persistence target, and callbacks
func TestSetBehavior(t *testing.T) {
	t.Run("InvalidValueLeavesStateUntouched", func(t *testing.T) {
		var called bool
		schema := NewSchema("").AddOption("PORT", Option{
			Default:  8080,
			Callback: func(key string, value any) { called = true },
		})
		s := newSettings(t, schema)

		err := s.Set("PORT", "nonsense")
		assert.ErrorIs(t, err, ErrInvalidValue)
		assert.Contains(t, err.Error(), "PORT")
		assert.False(t, called, "callback must not fire on rejected writes")

		v, err := s.Get("PORT")
		require.NoError(t, err)
		assert.Equal(t, int64(8080), v)
		assert.False(t, s.userfile.Has("port"))
	})

	t.Run("CallbackFiresOnSuccess", func(t *testing.T) {
		var gotKey string
		var gotValue any
		schema := NewSchema("").AddOption("PORT", Option{
			Default: 8080,
			Callback: func(key string, value any) {
				gotKey, gotValue = key, value
			},
		})
		s := newSettings(t, schema)

		require.NoError(t, s.Set("port", 9090))
		assert.Equal(t, "PORT", gotKey)
		assert.Equal(t, 9090, gotValue)
	})

	t.Run("NoSaveKeysStayOutOfUserFile", func(t *testing.T) {
		schema := NewSchema("").AddOption("SESSION", Option{
			Default: "",
			Save:    boolPtr(false),
		})
		s := newSettings(t, schema)

		require.NoError(t, s.Set("SESSION", "abc123"))
		assert.False(t, s.userfile.Has("session"))

		v, err := s.Get("SESSION")
		require.NoError(t, err)
		assert.Equal(t, "abc123", v)
	})

	t.Run("UnknownKey", func(t *testing.T) {
		s := newSettings(t, NewSchema("").Add("A", 1))
		_, err := s.Get("GHOST")
		assert.ErrorIs(t, err, ErrKeyNotFound)
		assert.ErrorIs(t, s.Set("GHOST", 1), ErrKeyNotFound)
		assert.False(t, s.Has("GHOST"))
	})

	t.Run("InitializeRunsOnConstruction", func(t *testing.T) {
		var gotKey string
		var gotValue any
		schema := NewSchema("").AddOption("PORT", Option{
			Default: 8080,
			Initialize: func(key string, value any) {
				gotKey, gotValue = key, value
			},
		})
		newSettings(t, schema)
		assert.Equal(t, "PORT", gotKey)
		assert.Equal(t, int64(8080), gotValue)
	})

	t.Run("InitializeReceivesDefaultNotOverride", func(t *testing.T) {
		var seen []any
		schema := NewSchema("").AddSection("DB", NewSchema("").AddOption("HOST", Option{
			Default: "localhost",
			Initialize: func(key string, value any) {
				seen = append(seen, value)
			},
		}))
		s := newSettings(t, schema)
		s.SetOptions(map[string]any{"db.host": "override"})

		v, err := s.Get("DB.HOST")
		require.NoError(t, err)
		assert.Equal(t, "override", v)

		require.NotEmpty(t, seen)
		for _, got := range seen {
			assert.Equal(t, "localhost", got,
				"hook sees the declared default, not the resolved value")
		}
	})
}

// TestSubsections tests nested schemas and dotted access
func TestSubsections(t *testing.T) {
	schema := NewSchema("app settings").
		Add("NAME", "app").
		AddSection("DB", NewSchema("database settings").
			Add("HOST", "localhost").
			Add("PORT", 5432).
			AddSection("POOL", NewSchema("").Add("MAX", 10)))

	s := newSettings(t, schema)

	t.Run("DottedGet", func(t *testing.T) {
		v, err := s.Get("DB.HOST")
		require.NoError(t, err)
		assert.Equal(t, "localhost", v)

		v, err = s.Get("db.pool.max")
		require.NoError(t, err)
		assert.Equal(t, int64(10), v)
	})

	t.Run("SectionHandle", func(t *testing.T) {
		v, err := s.Get("DB")
		require.NoError(t, err)
		db, ok := v.(*Section)
		require.True(t, ok)
		assert.Equal(t, []string{"HOST", "PORT", "POOL"}, db.Keys())
		assert.Equal(t, "database settings", db.Doc())

		v, err = db.Get("PORT")
		require.NoError(t, err)
		assert.Equal(t, int64(5432), v)
	})

	t.Run("AssignToSectionFails", func(t *testing.T) {
		assert.ErrorIs(t, s.Set("DB", "nope"), ErrSectionAssign)
	})

	t.Run("DottedSetLandsInUserTree", func(t *testing.T) {
		require.NoError(t, s.Set("db.port", 5433))

		var buf bytes.Buffer
		require.NoError(t, s.SaveTo(&buf))
		assert.Contains(t, buf.String(), "db:")
		assert.Contains(t, buf.String(), "    port = 5433")

		v, err := s.Get("DB.PORT")
		require.NoError(t, err)
		assert.Equal(t, int64(5433), v)
	})

	t.Run("HasDotted", func(t *testing.T) {
		assert.True(t, s.Has("DB.POOL.MAX"))
		assert.False(t, s.Has("DB.POOL.GHOST"))
		assert.False(t, s.Has("GHOST.KEY"))
	})
}

// TestSubsectionSourceAttachment tests that sources attached after a
// subsection was already read still reach it: child sections are rebuilt
// from the live sources on every access, never cached
func TestSubsectionSourceAttachment(t *testing.T) {
	newTree := func(t *testing.T) *Settings {
		return newSettings(t, NewSchema("").
			Add("NAME", "default").
			AddSection("DB", NewSchema("").Add("HOST", "localhost")))
	}

	t.Run("ConfigFileAddedAfterAccess", func(t *testing.T) {
		s := newTree(t)

		v, err := s.Get("DB.HOST")
		require.NoError(t, err)
		require.Equal(t, "localhost", v)

		path := writeTempFile(t, "late.toml",
			"name = \"fromtoml\"\n\n[db]\nhost = \"remote\"\n")
		require.NoError(t, s.AddConfigFile(path))

		v, err = s.Get("NAME")
		require.NoError(t, err)
		assert.Equal(t, "fromtoml", v)

		v, err = s.Get("DB.HOST")
		require.NoError(t, err)
		assert.Equal(t, "remote", v, "late file configs reach subsections")
	})

	t.Run("UserFileAttachedAfterAccess", func(t *testing.T) {
		s := newTree(t)

		v, err := s.Get("DB.HOST")
		require.NoError(t, err)
		require.Equal(t, "localhost", v)

		path := writeTempFile(t, "user.conf", "db:\n    host = fromuser\n")
		require.NoError(t, s.SetUserFile(path))

		v, err = s.Get("DB.HOST")
		require.NoError(t, err)
		assert.Equal(t, "fromuser", v)

		require.NoError(t, s.Set("DB.HOST", "written"))
		require.NoError(t, s.Save())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "    host = written",
			"subsection writes land in the attached user file")

		reloaded := newTree(t)
		require.NoError(t, reloaded.SetUserFile(path))
		v, err = reloaded.Get("DB.HOST")
		require.NoError(t, err)
		assert.Equal(t, "written", v)
	})

	t.Run("HandleWritesSurviveReattachment", func(t *testing.T) {
		s := newTree(t)
		_, err := s.Get("DB.HOST")
		require.NoError(t, err)

		path := writeTempFile(t, "user.conf", "")
		require.NoError(t, s.SetUserFile(path))
		require.NoError(t, s.Set("db.host", "fresh"))

		var buf bytes.Buffer
		require.NoError(t, s.SaveTo(&buf))
		assert.Contains(t, buf.String(), "    host = fresh")
	})
}

// TestConfigFileFormats tests TOML and YAML read-only configs
func TestConfigFileFormats(t *testing.T) {
	schema := NewSchema("").
		Add("PORT", 8080).
		Add("DEBUG", false).
		AddSection("DB", NewSchema("").Add("HOST", "localhost"))

	t.Run("TOML", func(t *testing.T) {
		s := newSettings(t, schema)
		path := writeTempFile(t, "app.toml",
			"port = 9090\ndebug = true\n\n[db]\nhost = \"remote\"\n")
		require.NoError(t, s.AddConfigFile(path))

		v, err := s.Get("PORT")
		require.NoError(t, err)
		assert.Equal(t, int64(9090), v)

		v, err = s.Get("DEBUG")
		require.NoError(t, err)
		assert.Equal(t, true, v)

		v, err = s.Get("DB.HOST")
		require.NoError(t, err)
		assert.Equal(t, "remote", v)
	})

	t.Run("YAML", func(t *testing.T) {
		s := newSettings(t, schema)
		path := writeTempFile(t, "app.yaml",
			"port: 9191\ndebug: true\ndb:\n  host: yamlhost\n")
		require.NoError(t, s.AddConfigFile(path))

		v, err := s.Get("PORT")
		require.NoError(t, err)
		assert.Equal(t, int64(9191), v)

		v, err = s.Get("DEBUG")
		require.NoError(t, err)
		assert.Equal(t, true, v)

		v, err = s.Get("DB.HOST")
		require.NoError(t, err)
		assert.Equal(t, "yamlhost", v)
	})

	t.Run("Native", func(t *testing.T) {
		s := newSettings(t, schema)
		path := writeTempFile(t, "app.conf",
			"port = 9292\ndb:\n    host = nativehost\n")
		require.NoError(t, s.AddConfigFile(path))

		v, err := s.Get("PORT")
		require.NoError(t, err)
		assert.Equal(t, int64(9292), v)

		v, err = s.Get("DB.HOST")
		require.NoError(t, err)
		assert.Equal(t, "nativehost", v)
	})

	t.Run("MissingFile", func(t *testing.T) {
		s := newSettings(t, schema)
		assert.Error(t, s.AddConfigFile(filepath.Join(t.TempDir(), "absent.toml")))
	})
}

// TestLoadEnv tests the environment variable name mapping
func TestLoadEnv(t *testing.T) {
	schema := NewSchema("").
		Add("MAX_SIZE", 100).
		AddSection("DB", NewSchema("").Add("MAX_CONN", 5))
	s := newSettings(t, schema)

	t.Setenv("ENVTEST_MAX_SIZE", "200")
	t.Setenv("ENVTEST_DB__MAX_CONN", "10")
	t.Setenv("OTHER_MAX_SIZE", "999")
	s.LoadEnv("ENVTEST_")

	v, err := s.Get("MAX_SIZE")
	require.NoError(t, err)
	assert.Equal(t, int64(200), v, "single underscores stay inside key names")

	v, err = s.Get("DB.MAX_CONN")
	require.NoError(t, err)
	assert.Equal(t, int64(10), v, "double underscore separates section levels")
}

// TestParseArgs tests command-line option parsing
func TestParseArgs(t *testing.T) {
	t.Run("Forms", func(t *testing.T) {
		flat := parseArgs([]string{
			"--port=9090", "--debug", "--name", "joe", "positional", "--",
		})
		assert.Equal(t, map[string]string{
			"port":  "9090",
			"debug": "True",
			"name":  "joe",
		}, flat)
	})

	t.Run("EndToEnd", func(t *testing.T) {
		schema := NewSchema("").
			Add("PORT", 8080).
			Add("DEBUG", false).
			AddSection("DB", NewSchema("").Add("HOST", "localhost"))
		s := newSettings(t, schema)

		s.ParseArgs([]string{"--port=9090", "--debug", "--db.host=remote"})

		v, err := s.Get("PORT")
		require.NoError(t, err)
		assert.Equal(t, int64(9090), v)

		v, err = s.Get("DEBUG")
		require.NoError(t, err)
		assert.Equal(t, true, v)

		v, err = s.Get("DB.HOST")
		require.NoError(t, err)
		assert.Equal(t, "remote", v)
	})
}

// TestSave tests user file persistence
func TestSave(t *testing.T) {
	t.Run("WithoutUserFile", func(t *testing.T) {
		s := newSettings(t, NewSchema("").Add("A", 1))
		assert.ErrorIs(t, s.Save(), ErrNoUserFile)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "user.conf")
		schema := NewSchema("saved settings").
			AddOption("HOST", Option{Default: "localhost", Help: "bind address"}).
			Add("PORT", 8080)

		s := newSettings(t, schema)
		require.NoError(t, s.SetUserFile(path))
		require.NoError(t, s.Set("HOST", "0.0.0.0"))
		require.NoError(t, s.Set("PORT", 9090))
		require.NoError(t, s.Save())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		content := string(data)
		assert.Contains(t, content, "# saved settings")
		assert.Contains(t, content, "# bind address")
		assert.Contains(t, content, "host = 0.0.0.0")
		assert.Contains(t, content, "port = 9090")

		reloaded := newSettings(t, schema)
		require.NoError(t, reloaded.SetUserFile(path))
		v, err := reloaded.Get("HOST")
		require.NoError(t, err)
		assert.Equal(t, "0.0.0.0", v)
		v, err = reloaded.Get("PORT")
		require.NoError(t, err)
		assert.Equal(t, int64(9090), v)
	})

	t.Run("SaveIsAtomic", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "user.conf")
		s := newSettings(t, NewSchema("").Add("A", 1))
		require.NoError(t, s.SetUserFile(path))
		require.NoError(t, s.Set("A", 2))
		require.NoError(t, s.Save())

		entries, err := os.ReadDir(filepath.Dir(path))
		require.NoError(t, err)
		require.Len(t, entries, 1, "no temp files left behind")
		assert.Equal(t, "user.conf", entries[0].Name())
	})
}

// TestListings tests Keys, Values, Items and Map
func TestListings(t *testing.T) {
	schema := NewSchema("").
		Add("B_KEY", 2).
		Add("A_KEY", 1).
		AddSection("SUB", NewSchema("").Add("INNER", "x"))
	s := newSettings(t, schema)

	assert.Equal(t, []string{"B_KEY", "A_KEY", "SUB"}, s.Keys(), "declaration order, not sorted")

	items, err := s.Items()
	require.NoError(t, err)
	assert.Equal(t, int64(2), items["B_KEY"])
	assert.Equal(t, int64(1), items["A_KEY"])

	values, err := s.Values()
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, int64(2), values[0])

	m := s.Map()
	assert.Equal(t, int64(2), m["b_key"])
	sub, ok := m["sub"].(map[string]any)
	require.True(t, ok, "subsections flatten to nested maps")
	assert.Equal(t, "x", sub["inner"])
}

// TestScan tests struct decoding of resolved values
func TestScan(t *testing.T) {
	schema := NewSchema("").
		Add("HOST", "localhost").
		Add("PORT", 8080).
		Add("TIMEOUT", 30*time.Second).
		Add("TAGS", []any{"a", "b"}).
		AddSection("DB", NewSchema("").
			Add("HOST", "dbhost").
			Add("MAX_CONN", 5))
	s := newSettings(t, schema)
	require.NoError(t, s.Set("PORT", 9090))

	type dbConfig struct {
		Host    string `settings:"host"`
		MaxConn int    `settings:"max_conn"`
	}
	type appConfig struct {
		Host    string        `settings:"host"`
		Port    int           `settings:"port"`
		Timeout time.Duration `settings:"timeout"`
		Tags    []string      `settings:"tags"`
		DB      dbConfig      `settings:"db"`
	}

	var cfg appConfig
	require.NoError(t, s.Scan("", &cfg))
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, []string{"a", "b"}, cfg.Tags)
	assert.Equal(t, "dbhost", cfg.DB.Host)
	assert.Equal(t, 5, cfg.DB.MaxConn)

	t.Run("BasePath", func(t *testing.T) {
		var db dbConfig
		require.NoError(t, s.Scan("db", &db))
		assert.Equal(t, "dbhost", db.Host)
	})

	t.Run("UnknownBasePath", func(t *testing.T) {
		var db dbConfig
		assert.ErrorIs(t, s.Scan("ghost", &db), ErrKeyNotFound)
	})
}

// TestBuilder tests the fluent assembly path
func TestBuilder(t *testing.T) {
	userPath := filepath.Join(t.TempDir(), "user.conf")
	require.NoError(t, os.WriteFile(userPath, []byte("name = fromuser\n"), 0o644))
	tomlPath := writeTempFile(t, "base.toml", "port = 7070\nname = \"fromtoml\"\n")

	t.Setenv("BUILDTEST_DEBUG", "yes")

	schema := NewSchema("built settings").
		Add("NAME", "default").
		Add("PORT", 8080).
		Add("DEBUG", false)

	s, err := NewBuilder().
		WithSchema(schema).
		WithConfigFile(tomlPath).
		WithUserFile(userPath).
		WithEnvPrefix("BUILDTEST_").
		WithArgs([]string{"--port=9999"}).
		Build()
	require.NoError(t, err)

	v, err := s.Get("PORT")
	require.NoError(t, err)
	assert.Equal(t, int64(9999), v, "args win over the toml value")

	v, err = s.Get("NAME")
	require.NoError(t, err)
	assert.Equal(t, "fromuser", v, "user file wins over the toml value")

	v, err = s.Get("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, true, v, "env supplies the flag")
}
