package module

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopFactory() Factory {
	return FuncFactory(func(ctx context.Context, m Module) error { return nil })
}

func TestNewInfo_Validation(t *testing.T) {
	tests := []struct {
		name    string
		opts    []InfoOption
		factory Factory
		wantErr error
	}{
		{
			name:    "valid",
			opts:    []InfoOption{WithInputs(InputOf[int]("x"), InputOf[int]("y")), WithOutputs(OutputOf[int]("x"))},
			factory: noopFactory(),
		},
		{
			name:    "duplicate input",
			opts:    []InfoOption{WithInputs(InputOf[int]("x"), InputOf[string]("x"))},
			factory: noopFactory(),
			wantErr: ErrDuplicateItem,
		},
		{
			name:    "output declared as input",
			opts:    []InfoOption{WithInputs(OutputOf[int]("sum"))},
			factory: noopFactory(),
			wantErr: ErrInvalidInfo,
		},
		{
			name:    "missing factory",
			wantErr: ErrInvalidInfo,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := NewInfo("adder", tt.factory, tt.opts...)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, info)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "adder", info.Name())
		})
	}
}

func TestInfo_ItemsKeepDeclarationOrder(t *testing.T) {
	info := MustInfo("ordered", noopFactory(),
		WithInputs(InputOf[int]("b"), InputOf[int]("a"), InputOf[int]("c")))

	var names []string
	for _, it := range info.Inputs() {
		names = append(names, it.Name())
	}
	assert.Equal(t, []string{"b", "a", "c"}, names)

	// Mutating the returned slice must not affect the descriptor.
	items := info.Inputs()
	items[0] = nil
	assert.NotNil(t, info.Inputs()[0])
}

func TestInfo_CreateModule(t *testing.T) {
	t.Run("independent instances", func(t *testing.T) {
		info := MustInfo("m", noopFactory(), WithInputs(InputOf[int]("x")))

		a, err := info.CreateModule()
		require.NoError(t, err)
		b, err := info.CreateModule()
		require.NoError(t, err)

		a.SetInput("x", 1)
		a.SetResolved("x", true)
		assert.Nil(t, b.Input("x"))
		assert.False(t, b.IsResolved("x"))
	})

	t.Run("factory error", func(t *testing.T) {
		cause := errors.New("native library missing")
		info := MustInfo("broken", func(*Info) (Module, error) { return nil, cause })

		m, err := info.CreateModule()
		assert.Nil(t, m)
		assert.ErrorIs(t, err, ErrCreateModule)
		assert.ErrorIs(t, err, cause)

		var ce *CreateError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "broken", ce.Module)
	})

	t.Run("factory panic", func(t *testing.T) {
		info := MustInfo("panics", func(*Info) (Module, error) { panic("boom") })

		m, err := info.CreateModule()
		assert.Nil(t, m)
		assert.ErrorIs(t, err, ErrCreateModule)
		assert.Contains(t, err.Error(), "boom")
	})
}

func TestBase_InputFallsBackToDefault(t *testing.T) {
	info := MustInfo("defaults", noopFactory(),
		WithInputs(InputOf[int]("y", WithDefault(10)), InputOf[int]("z")))
	m, err := info.CreateModule()
	require.NoError(t, err)

	assert.Equal(t, 10, m.Input("y"))
	assert.Nil(t, m.Input("z"))
	assert.False(t, m.IsResolved("y"))

	m.SetInput("y", 3)
	assert.Equal(t, 3, m.Input("y"))
}

func TestBase_SetResolved(t *testing.T) {
	m := NewBase(MustInfo("r", noopFactory()))
	m.SetResolved("x", true)
	assert.True(t, m.IsResolved("x"))
	m.SetResolved("x", false)
	assert.False(t, m.IsResolved("x"))
}

func TestParseAccelerator(t *testing.T) {
	tests := []struct {
		in      string
		want    Accelerator
		wantErr bool
	}{
		{in: "ctrl shift A", want: Accelerator{Key: "A", Modifiers: ModCtrl | ModShift}},
		{in: "ctrl+shift+a", want: Accelerator{Key: "A", Modifiers: ModCtrl | ModShift}},
		{in: "F5", want: Accelerator{Key: "F5"}},
		{in: "cmd+alt+k", want: Accelerator{Key: "K", Modifiers: ModMeta | ModAlt}},
		{in: "", wantErr: true},
		{in: "hyper x", wantErr: true},
		{in: "ctrl shift", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAccelerator(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAccelerator)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "ctrl shift A", MustParseAccelerator("shift+ctrl+a").String())
}

func TestInfo_Accelerator(t *testing.T) {
	acc := MustParseAccelerator("ctrl A")

	withAcc := MustInfo("a", noopFactory(),
		WithMenuPath(ParseMenuPath("Process > Math > Add").WithAccelerator(acc)))
	got, ok := withAcc.Accelerator()
	require.True(t, ok)
	assert.Equal(t, acc, got)
	assert.Equal(t, "Process > Math > Add", withAcc.MenuPath().String())

	_, ok = MustInfo("b", noopFactory()).Accelerator()
	assert.False(t, ok)

	_, ok = MustInfo("c", noopFactory(), WithMenuPath(NewMenuPath("Plugins"))).Accelerator()
	assert.False(t, ok)
}

type shape interface{ Area() float64 }

type square float64

func (s square) Area() float64 { return float64(s * s) }

func TestSingleInput(t *testing.T) {
	info := MustInfo("query", noopFactory(),
		WithInputs(
			InputOf[string]("title"),
			InputOf[int]("width"),
			InputOf[int]("height"),
			InputOf[square]("tile"),
		),
		WithOutputs(OutputOf[int]("area")),
	)
	m, err := info.CreateModule()
	require.NoError(t, err)

	t.Run("zero candidates", func(t *testing.T) {
		_, ok := SingleInput(m, reflect.TypeFor[float64]())
		assert.False(t, ok)
	})

	t.Run("unique candidate", func(t *testing.T) {
		it, ok := SingleInputOf[string](m)
		require.True(t, ok)
		assert.Equal(t, "title", it.Name())
	})

	t.Run("ambiguous until one resolves", func(t *testing.T) {
		_, ok := SingleInputOf[int](m)
		assert.False(t, ok)

		m.SetResolved("width", true)
		it, ok := SingleInputOf[int](m)
		require.True(t, ok)
		assert.Equal(t, "height", it.Name())
	})

	t.Run("interface assignability", func(t *testing.T) {
		it, ok := SingleInputOf[shape](m)
		require.True(t, ok)
		assert.Equal(t, "tile", it.Name())
	})

	t.Run("outputs", func(t *testing.T) {
		it, ok := SingleOutputOf[int](m)
		require.True(t, ok)
		assert.Equal(t, "area", it.Name())

		m.SetResolved("area", true)
		_, ok = SingleOutputOf[int](m)
		assert.False(t, ok)
	})
}

func TestValuesHelpers(t *testing.T) {
	info := MustInfo("sum", FuncFactory(func(ctx context.Context, m Module) error {
		m.SetOutput("sum", m.Input("x").(int)+m.Input("y").(int))
		return nil
	}),
		WithInputs(InputOf[int]("x"), InputOf[int]("y", WithDefault(1))),
		WithOutputs(OutputOf[int]("sum"), OutputOf[string]("note")),
	)
	m, err := info.CreateModule()
	require.NoError(t, err)

	m.SetInput("x", 2)
	m.SetResolved("x", true)
	require.NoError(t, m.Run(context.Background()))

	assert.Equal(t, map[string]any{"x": 2, "y": 1}, InputValues(m))
	assert.Equal(t, map[string]any{"sum": 3}, OutputValues(m))

	unresolved := Unresolved(m)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "y", unresolved[0].Name())
	assert.Equal(t, fmt.Sprintf("input y %s", reflect.TypeFor[int]()), unresolved[0].String())
}
