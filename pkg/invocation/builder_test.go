package invocation

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestBuild_Defaults(t *testing.T) {
	inv, err := Build(Options{}, "src", "/tmp/gulp-ruby-sass")
	require.NoError(t, err)

	assert.Equal(t, "sass", inv.Command)
	assert.Equal(t, []string{"--sourcemap", "file", "--update", "src:/tmp/gulp-ruby-sass"}, inv.Args)
	assert.Equal(t, "sass --sourcemap file --update src:/tmp/gulp-ruby-sass", inv.String())
}

func TestBuild_Bundler(t *testing.T) {
	inv, err := Build(Options{Bundler: true, Sourcemap: SourcemapNone}, "src", "/tmp/out")
	require.NoError(t, err)

	assert.Equal(t, "bundle", inv.Command)
	assert.Equal(t, []string{"exec", "sass", "--sourcemap", "none", "--update", "src:/tmp/out"}, inv.Args)
}

func TestBuild_Passthrough(t *testing.T) {
	opts := Options{
		Sourcemap: SourcemapInline,
		Flags: Flags{
			{Name: "style", Value: "compressed"},
			{Name: "precision", Value: 6},
			{Name: "noCache", Value: true},
			{Name: "quiet", Value: false},
			{Name: "loadPath", Value: []string{"vendor", "lib"}},
			{Name: "update", Value: false},
			{Name: "watch", Value: true},
			{Name: "container", Value: "ignored"},
		},
	}

	inv, err := Build(opts, "src", "/tmp/out")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"--sourcemap", "inline",
		"--style", "compressed",
		"--precision", "6",
		"--no-cache",
		"--load-path", "vendor",
		"--load-path", "lib",
		"--update",
		"src:/tmp/out",
	}, inv.Args)
}

func TestBuild_InvalidSourcemap(t *testing.T) {
	_, err := Build(Options{Sourcemap: "external"}, "src", "/tmp/out")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid sourcemap mode")
}

func TestDestination(t *testing.T) {
	assert.Equal(t, "/tmp/gulp-ruby-sass", Destination("/tmp", ""))
	assert.Equal(t, "/tmp/custom", Destination("/tmp/", "custom"))
}

func TestFlagName(t *testing.T) {
	tests := map[string]string{
		"loadPath":     "load-path",
		"load-path":    "load-path",
		"noCache":      "no-cache",
		"style":        "style",
		"--style":      "style",
		"default_enc":  "default-enc",
		"URL":          "url",
		"sourceMapURL": "source-map-url",
		"URLPath":      "url-path",
		"precision2X":  "precision2-x",
	}
	for in, want := range tests {
		assert.Equal(t, want, FlagName(in), in)
	}
}

func TestParseFlag(t *testing.T) {
	f, err := ParseFlag("style=compressed")
	require.NoError(t, err)
	assert.Equal(t, Flag{Name: "style", Value: "compressed"}, f)

	f, err = ParseFlag("--no-cache")
	require.NoError(t, err)
	assert.Equal(t, Flag{Name: "no-cache", Value: true}, f)

	f, err = ParseFlag("trace=false")
	require.NoError(t, err)
	assert.Equal(t, Flag{Name: "trace", Value: false}, f)

	_, err = ParseFlag("--")
	assert.Error(t, err)

	_, err = ParseFlag("=value")
	assert.Error(t, err)
}

func TestFlags_Set(t *testing.T) {
	var fs Flags
	fs.Set("style", "nested")
	fs.Set("precision", 5)
	fs.Set("style", "compressed")

	require.Len(t, fs, 2)
	assert.Equal(t, Flag{Name: "style", Value: "compressed"}, fs[0])
}

func TestFlags_UnmarshalYAMLKeepsOrder(t *testing.T) {
	doc := `
flags:
  style: compressed
  loadPath: [vendor, lib]
  precision: 6
  trace: true
`
	var cfg struct {
		Flags Flags `yaml:"flags"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(doc), &cfg))

	require.Len(t, cfg.Flags, 4)
	assert.Equal(t, "style", cfg.Flags[0].Name)
	assert.Equal(t, "loadPath", cfg.Flags[1].Name)
	assert.Equal(t, "precision", cfg.Flags[2].Name)
	assert.Equal(t, "trace", cfg.Flags[3].Name)
	assert.Equal(t,
		[]string{"--style", "compressed", "--load-path", "vendor", "--load-path", "lib", "--precision", "6", "--trace"},
		cfg.Flags.Args())
}

func TestFlags_UnmarshalYAMLRejectsSequence(t *testing.T) {
	var cfg struct {
		Flags Flags `yaml:"flags"`
	}
	err := yaml.Unmarshal([]byte("flags: [a, b]"), &cfg)
	assert.Error(t, err)
}

func TestBuild_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("last argument is source:destination", prop.ForAll(
		func(source, name, value string, bundler bool) bool {
			opts := Options{Bundler: bundler, Flags: Flags{{Name: name, Value: value}}}
			inv, err := Build(opts, source, `/tmp/`+name)
			if err != nil {
				return false
			}
			return inv.Args[len(inv.Args)-1] == source+":/tmp/"+name
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
		gen.Bool(),
	))

	properties.Property("update is always forwarded", prop.ForAll(
		func(update bool) bool {
			inv, err := Build(Options{Flags: Flags{{Name: "update", Value: update}}}, "src", "/tmp/out")
			if err != nil {
				return false
			}
			count := 0
			for _, a := range inv.Args {
				if a == "--update" {
					count++
				}
			}
			return count == 1
		},
		gen.Bool(),
	))

	properties.Property("destination has no backslashes", prop.ForAll(
		func(container string) bool {
			return !strings.Contains(Destination("/tmp", container), `\`)
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
