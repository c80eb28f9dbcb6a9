package service

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/Talos/pkg/concurrency"
	"github.com/wehubfusion/Talos/pkg/convert"
	"github.com/wehubfusion/Talos/pkg/event"
	"github.com/wehubfusion/Talos/pkg/module"
	"github.com/wehubfusion/Talos/pkg/process"
	"github.com/wehubfusion/Talos/pkg/task"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func sumInfo(t *testing.T) *module.Info {
	t.Helper()
	info, err := module.NewInfo("sum",
		module.FuncFactory(func(_ context.Context, m module.Module) error {
			x, _ := m.Input("x").(int)
			y, _ := m.Input("y").(int)
			m.SetOutput("sum", x+y)
			return nil
		}),
		module.WithMenuPath(module.ParseMenuPath("Math > Sum").WithAccelerator(module.MustParseAccelerator("ctrl S"))),
		module.WithInputs(module.InputOf[int]("x"), module.InputOf[int]("y")),
		module.WithOutputs(module.OutputOf[int]("sum")),
	)
	require.NoError(t, err)
	return info
}

func observed() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func TestRun_PositionalSum(t *testing.T) {
	svc := New()
	f := svc.Run(context.Background(), sumInfo(t), nil, nil, Positional{3, 4})

	m := svc.WaitFor(context.Background(), f)
	require.NotNil(t, m)
	assert.Equal(t, 7, m.Output("sum"))
	assert.True(t, m.IsResolved("x"))
	assert.True(t, m.IsResolved("y"))
}

func TestRun_PositionalValuesAreCoerced(t *testing.T) {
	svc := New()
	m := svc.WaitFor(context.Background(), svc.Execute(context.Background(), sumInfo(t), "3", 4.0))
	require.NotNil(t, m)
	assert.Equal(t, 7, m.Output("sum"))
}

func TestRun_NamedLeavesOmittedInputUnresolved(t *testing.T) {
	svc := New()
	f := svc.Run(context.Background(), sumInfo(t), nil, nil, Named{"x": 3})

	m := svc.WaitFor(context.Background(), f)
	require.NotNil(t, m)
	assert.True(t, m.IsResolved("x"))
	assert.False(t, m.IsResolved("y"))
}

func TestRun_CancelingPreprocessorSkipsBodyAndPostprocessors(t *testing.T) {
	svc := New()
	var postRan atomic.Bool

	f := svc.Run(context.Background(), sumInfo(t),
		[]process.Preprocessor{process.PreprocessorFunc(func(context.Context, module.Module) error {
			return process.Cancel("user aborted")
		})},
		[]process.Postprocessor{process.PostprocessorFunc(func(context.Context, module.Module, error) error {
			postRan.Store(true)
			return nil
		})},
		Positional{3, 4},
	)

	m := svc.WaitFor(context.Background(), f)
	require.NotNil(t, m)
	assert.Nil(t, m.Output("sum"))
	assert.False(t, postRan.Load())

	_, err := f.Wait(context.Background())
	assert.True(t, process.IsCanceled(err))
}

func TestRun_CanceledRunsDoNotOpenBreaker(t *testing.T) {
	breaker := concurrency.NewCircuitBreaker(2, time.Minute)
	svc := New(WithSubstrate(task.NewSpawner(concurrency.NewLimiter(4, breaker), nil)))
	info := sumInfo(t)
	abort := []process.Preprocessor{process.PreprocessorFunc(func(context.Context, module.Module) error {
		return process.Cancel("user aborted")
	})}

	for i := 0; i < 2; i++ {
		_, err := svc.Run(context.Background(), info, abort, nil, Positional{3, 4}).Wait(context.Background())
		require.True(t, process.IsCanceled(err))
	}
	assert.Equal(t, concurrency.StateClosed, breaker.State())

	m := svc.WaitFor(context.Background(), svc.Run(context.Background(), info, nil, nil, Positional{3, 4}))
	require.NotNil(t, m)
	assert.Equal(t, 7, m.Output("sum"))
}

func TestRun_CreationFailureResolvesFuture(t *testing.T) {
	logger, logs := observed()
	svc := New(WithLogger(logger))

	info, err := module.NewInfo("broken", func(*module.Info) (module.Module, error) {
		return nil, errors.New("native library missing")
	})
	require.NoError(t, err)

	f := svc.Run(context.Background(), info, nil, nil, nil)
	require.NotNil(t, f)
	assert.True(t, f.IsDone())

	_, err = f.Wait(context.Background())
	assert.ErrorIs(t, err, module.ErrCreateModule)
	assert.Nil(t, svc.WaitFor(context.Background(), f))
	assert.Equal(t, 1, logs.FilterMessage("Cannot create module").Len())
}

func TestRun_BodyFailureWaitForReturnsNil(t *testing.T) {
	logger, logs := observed()
	svc := New(WithLogger(logger))

	info := module.MustInfo("fails", module.FuncFactory(func(context.Context, module.Module) error {
		return errors.New("boom")
	}))

	f := svc.Execute(context.Background(), info)
	assert.Nil(t, svc.WaitFor(context.Background(), f))

	m, err := f.Wait(context.Background())
	assert.Error(t, err)
	assert.NotNil(t, m)
	assert.GreaterOrEqual(t, logs.FilterMessage("Module execution failed").Len(), 1)
}

func TestWaitFor_Interrupted(t *testing.T) {
	svc := New()
	release := make(chan struct{})
	defer close(release)

	info := module.MustInfo("slow", module.FuncFactory(func(context.Context, module.Module) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Nil(t, svc.WaitFor(ctx, svc.Execute(context.Background(), info)))
	assert.Nil(t, svc.WaitFor(context.Background(), nil))
}

func TestWaitFor_CanceledFuture(t *testing.T) {
	svc := New()
	f := task.NewFuture()
	require.True(t, f.Cancel())
	assert.Nil(t, svc.WaitFor(context.Background(), f))
}

func TestRunModule_ReusesInstance(t *testing.T) {
	svc := New()
	m, err := sumInfo(t).CreateModule()
	require.NoError(t, err)

	got := svc.WaitFor(context.Background(), svc.ExecuteModule(context.Background(), m, 1, 2))
	assert.Same(t, m, got)
	assert.Equal(t, 3, got.Output("sum"))
}

func TestRun_OnPool(t *testing.T) {
	pool := task.NewPool(task.DefaultPoolConfig().WithWorkers(2), concurrency.NewLimiter(2, nil), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Close()

	svc := New(WithSubstrate(pool))
	info := sumInfo(t)

	futures := make([]*task.Future, 20)
	for i := range futures {
		futures[i] = svc.Execute(ctx, info, i, i)
	}
	for i, f := range futures {
		m := svc.WaitFor(ctx, f)
		require.NotNil(t, m)
		assert.Equal(t, 2*i, m.Output("sum"))
	}
}

func TestRegistry(t *testing.T) {
	bus := event.NewBus()
	var kinds []event.Kind
	bus.Subscribe("", func(_ context.Context, e event.Event) { kinds = append(kinds, e.Kind) })

	svc := New(WithPublisher(bus))
	ctx := context.Background()
	info := sumInfo(t)
	other := module.MustInfo("other", module.FuncFactory(func(context.Context, module.Module) error { return nil }))

	svc.AddModules(ctx, []*module.Info{info, other})
	svc.AddModule(ctx, info)
	assert.Len(t, svc.Modules(), 3)

	got, ok := svc.ModuleForAccelerator(module.MustParseAccelerator("ctrl+s"))
	require.True(t, ok)
	assert.Same(t, info, got)

	_, ok = svc.ModuleForAccelerator(module.MustParseAccelerator("ctrl Q"))
	assert.False(t, ok)

	found, ok := svc.Lookup("other")
	require.True(t, ok)
	assert.Same(t, other, found)

	svc.RemoveModule(ctx, info)
	assert.Equal(t, 1, svc.Index().Count(info))
	svc.RemoveModules(ctx, []*module.Info{info, other})
	assert.Empty(t, svc.Modules())

	assert.Equal(t, []event.Kind{event.ModulesAdded, event.ModulesAdded, event.ModulesRemoved, event.ModulesRemoved}, kinds)
}

func TestSingleInputAndOutput(t *testing.T) {
	svc := New()
	m, err := sumInfo(t).CreateModule()
	require.NoError(t, err)

	_, ok := svc.SingleInput(m, reflect.TypeFor[int]())
	assert.False(t, ok, "two unresolved int inputs are ambiguous")

	m.SetResolved("x", true)
	item, ok := svc.SingleInput(m, reflect.TypeFor[int]())
	require.True(t, ok)
	assert.Equal(t, "y", item.Name())

	out, ok := svc.SingleOutput(m, reflect.TypeFor[int]())
	require.True(t, ok)
	assert.Equal(t, "sum", out.Name())

	_, ok = svc.SingleOutput(m, reflect.TypeFor[string]())
	assert.False(t, ok)
}

func TestNew_UsesCustomConverter(t *testing.T) {
	calls := 0
	conv := convert.Func(func(v any, target reflect.Type) (any, bool) {
		calls++
		return convert.Default().Convert(v, target)
	})
	svc := New(WithConverter(conv))
	m := svc.WaitFor(context.Background(), svc.Execute(context.Background(), sumInfo(t), 1, 1))
	require.NotNil(t, m)
	assert.Equal(t, 2, calls)
}
