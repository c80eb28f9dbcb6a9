// Package manifest loads declarative module kinds from HCL files.
//
// A manifest declares one or more modules whose body is a script:
//
//	module "greet" {
//	  label       = "Greet"
//	  menu        = "Text > Greet"
//	  accelerator = "ctrl G"
//
//	  input "name" {
//	    type    = string
//	    default = "world"
//	  }
//	  output "greeting" {
//	    type = string
//	  }
//
//	  script = <<-EOT
//	    greeting = "Hello, " + name
//	  EOT
//	}
package manifest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/ext/typeexpr"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/wehubfusion/Talos/pkg/convert"
	"github.com/wehubfusion/Talos/pkg/module"
	"github.com/wehubfusion/Talos/pkg/modules/script"
	"github.com/zclconf/go-cty/cty"
	ctyconvert "github.com/zclconf/go-cty/cty/convert"
	"go.uber.org/zap"
)

// ErrInvalidManifest wraps every decoding failure.
var ErrInvalidManifest = errors.New("invalid module manifest")

type fileRoot struct {
	Modules []*moduleBlock `hcl:"module,block"`
	Remain  hcl.Body       `hcl:",remain"`
}

type moduleBlock struct {
	Name          string       `hcl:"name,label"`
	Label         string       `hcl:"label,optional"`
	Description   string       `hcl:"description,optional"`
	Menu          string       `hcl:"menu,optional"`
	Accelerator   string       `hcl:"accelerator,optional"`
	Inputs        []*itemBlock `hcl:"input,block"`
	Outputs       []*itemBlock `hcl:"output,block"`
	Script        string       `hcl:"script"`
	Timeout       string       `hcl:"timeout,optional"`
	SecurityLevel string       `hcl:"security_level,optional"`
}

type itemBlock struct {
	Name        string         `hcl:"name,label"`
	Type        hcl.Expression `hcl:"type"`
	Label       string         `hcl:"label,optional"`
	Description string         `hcl:"description,optional"`
	Required    bool           `hcl:"required,optional"`
	Default     hcl.Expression `hcl:"default,optional"`
}

// Loader turns manifests into module infos.
type Loader struct {
	script    script.Config
	converter convert.Converter
	logger    *zap.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithScriptConfig sets the defaults for script bodies. Per-module timeout and
// security_level attributes override them.
func WithScriptConfig(cfg script.Config) Option {
	return func(l *Loader) { l.script = cfg }
}

func WithConverter(c convert.Converter) Option {
	return func(l *Loader) {
		if c != nil {
			l.converter = c
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(l *Loader) {
		if log != nil {
			l.logger = log
		}
	}
}

// NewLoader creates a Loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		script:    script.DefaultConfig(),
		converter: convert.Default(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Parse decodes the manifest in src. filename is used in diagnostics.
func (l *Loader) Parse(src []byte, filename string) ([]*module.Info, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidManifest, filename, diags)
	}
	return l.decode(file, filename)
}

// ParseFile decodes the manifest at path.
func (l *Loader) ParseFile(path string) ([]*module.Info, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	return l.Parse(src, path)
}

// LoadDirs decodes every .hcl file below dirs, in lexical order per directory.
// Missing directories are skipped.
func (l *Loader) LoadDirs(ctx context.Context, dirs ...string) ([]*module.Info, error) {
	var infos []*module.Info
	for _, dir := range dirs {
		files, err := findManifests(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				l.logger.Warn("Manifest directory does not exist", zap.String("dir", dir))
				continue
			}
			return nil, err
		}
		for _, path := range files {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			found, err := l.ParseFile(path)
			if err != nil {
				return nil, err
			}
			l.logger.Debug("Loaded manifest", zap.String("file", path), zap.Int("modules", len(found)))
			infos = append(infos, found...)
		}
	}
	l.logger.Info("Manifests loaded", zap.Int("modules", len(infos)))
	return infos, nil
}

func findManifests(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".hcl") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(files)
	return files, nil
}

func (l *Loader) decode(file *hcl.File, filename string) ([]*module.Info, error) {
	var root fileRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidManifest, filename, diags)
	}

	infos := make([]*module.Info, 0, len(root.Modules))
	for _, b := range root.Modules {
		info, err := l.build(b)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: module %q: %w", ErrInvalidManifest, filename, b.Name, err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (l *Loader) build(b *moduleBlock) (*module.Info, error) {
	inputs := make([]*module.Item, 0, len(b.Inputs))
	for _, ib := range b.Inputs {
		item, err := buildItem(ib, module.Input)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, item)
	}
	outputs := make([]*module.Item, 0, len(b.Outputs))
	for _, ib := range b.Outputs {
		item, err := buildItem(ib, module.Output)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, item)
	}

	opts := []module.InfoOption{
		module.WithLabel(b.Label),
		module.WithDescription(b.Description),
		module.WithInputs(inputs...),
		module.WithOutputs(outputs...),
	}
	switch {
	case b.Menu != "":
		path := module.ParseMenuPath(b.Menu)
		if b.Accelerator != "" {
			acc, err := module.ParseAccelerator(b.Accelerator)
			if err != nil {
				return nil, err
			}
			path = path.WithAccelerator(acc)
		}
		opts = append(opts, module.WithMenuPath(path))
	case b.Accelerator != "":
		return nil, errors.New("accelerator requires a menu")
	}

	cfg := l.script
	if b.Timeout != "" {
		d, err := time.ParseDuration(b.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if b.SecurityLevel != "" {
		cfg.SecurityLevel = b.SecurityLevel
	}

	return script.NewInfo(b.Name, b.Script, opts,
		script.WithConfig(cfg),
		script.WithConverter(l.converter),
		script.WithLogger(l.logger),
	)
}

func buildItem(b *itemBlock, dir module.Direction) (*module.Item, error) {
	ty, diags := typeexpr.TypeConstraint(b.Type)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%s %q: %w", dir, b.Name, diags)
	}
	goType := GoType(ty)

	var opts []module.ItemOption
	if b.Label != "" {
		opts = append(opts, module.WithItemLabel(b.Label))
	}
	if b.Description != "" {
		opts = append(opts, module.WithItemDescription(b.Description))
	}
	if b.Required {
		opts = append(opts, module.Required())
	}

	if b.Default != nil {
		val, diags := b.Default.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("%s %q: %w", dir, b.Name, diags)
		}
		if !val.IsNull() {
			if dir == module.Output {
				return nil, fmt.Errorf("output %q cannot declare a default", b.Name)
			}
			def, err := defaultValue(val, ty)
			if err != nil {
				return nil, fmt.Errorf("input %q: invalid default: %w", b.Name, err)
			}
			v, err := GoValue(def, goType)
			if err != nil {
				return nil, fmt.Errorf("input %q: invalid default: %w", b.Name, err)
			}
			opts = append(opts, module.WithDefault(v))
		}
	}

	if dir == module.Output {
		return module.NewOutput(b.Name, goType, opts...), nil
	}
	return module.NewInput(b.Name, goType, opts...), nil
}

func defaultValue(val cty.Value, ty cty.Type) (cty.Value, error) {
	if ty == cty.DynamicPseudoType {
		return val, nil
	}
	return ctyconvert.Convert(val, ty)
}
