package actions

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

func noop(_ context.Context, _ StepInput) (StepResult, error) {
	return Success(nil), nil
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Action{ID: "get-value", Category: "Redis", Step: noop}))

	a, ok := r.Lookup("get-value")
	require.True(t, ok)
	assert.Equal(t, "Get Value", a.Label)
	assert.Equal(t, "Get Value", r.Label("get-value"))
	assert.Equal(t, "", r.Label("missing"))

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}

func TestRegistry_Duplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Action{ID: Condition, Step: noop}))

	err := r.Register(Action{ID: Condition, Step: noop})
	require.Error(t, err)
	assert.True(t, errors.Is(err, sdkerrors.ErrActionExists))
	assert.True(t, sdkerrors.HasCode(err, sdkerrors.CodeDuplicateAction))
}

func TestRegistry_InvalidActions(t *testing.T) {
	r := NewRegistry()

	err := r.Register(Action{ID: "x"})
	assert.ErrorIs(t, err, sdkerrors.ErrInvalidStep)

	err = r.Register(Action{ID: "  ", Step: noop})
	assert.True(t, sdkerrors.HasCode(err, sdkerrors.CodeInvalidConfig))

	assert.Panics(t, func() { r.MustRegister(Action{ID: "y"}) })
}

func TestRegistry_ActionsOrdered(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Action{ID: "b", Category: "Zeta", Step: noop})
	r.MustRegister(Action{ID: "c", Category: "Alpha", Step: noop})
	r.MustRegister(Action{ID: "a", Category: "Alpha", Step: noop})

	var ids []string
	for _, a := range r.Actions() {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"a", "c", "b"}, ids)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Register(Action{ID: DeriveLabel("a"), Step: noop})
			r.Lookup("A")
		}(i)
	}
	wg.Wait()
	assert.Len(t, r.Actions(), 1)
}

func TestDeriveLabel(t *testing.T) {
	assert.Equal(t, "Find Documents", DeriveLabel("find_documents"))
	assert.Equal(t, "Blob Upload", DeriveLabel("Blob Upload"))
	assert.Equal(t, "Run Code", DeriveLabel("run-code"))
}

func TestIsSystem(t *testing.T) {
	assert.True(t, IsSystem("HTTP Request"))
	assert.False(t, IsSystem("Get Value"))
}

func TestStepInput_Accessors(t *testing.T) {
	in := NewStepInput(map[string]any{
		"integrationId": "cred-1",
		"key":           "user:1",
		"limit":         "25",
		"skip":          float64(3),
		"bad":           "x",
		"frac":          1.5,
		"create":        "TRUE",
		"flag":          true,
	}, StepContext{NodeID: "n1"})

	assert.Equal(t, "cred-1", in.IntegrationID)
	assert.Equal(t, "user:1", in.String("key"))
	assert.Equal(t, "", in.String("skip"))
	assert.Equal(t, "text/plain", in.StringWithDefault("contentType", "text/plain"))

	n, err := in.Int("limit", 100)
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	n, err = in.Int("skip", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = in.Int("absent", 100)
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	_, err = in.Int("bad", 0)
	assert.Error(t, err)
	_, err = in.Int("frac", 0)
	assert.Error(t, err)

	assert.True(t, in.Bool("create"))
	assert.True(t, in.Bool("flag"))
	assert.False(t, in.Bool("absent"))
}

func TestStepResult(t *testing.T) {
	ok := Success(map[string]any{"value": 1})
	assert.False(t, ok.Failed())
	assert.Equal(t, true, ok["success"])

	bad := Failure("boom", map[string]any{"status": 500})
	assert.True(t, bad.Failed())
	assert.Equal(t, "boom", bad.ErrorMessage())
	assert.Equal(t, 500, bad["status"])

	assert.False(t, StepResult{"value": 1}.Failed())
}

func TestValidationFailure(t *testing.T) {
	res := ValidationFailure(FieldError{Field: "key", Message: "Key is required"}, FieldError{Field: "ttl", Message: "TTL must be positive"})
	assert.True(t, res.Failed())
	assert.Equal(t, "Validation failed: key: Key is required, ttl: TTL must be positive", res.ErrorMessage())
}
