package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline-dev/flowline/pkg/schema"
)

type portableEcho struct {
	schema.Recorder
	id   string
	text string
}

func (j *portableEcho) ID() string          { return j.id }
func (j *portableEcho) Name() string        { return "echo" }
func (j *portableEcho) Description() string { return "echoes its configured text" }

func (j *portableEcho) Run(context.Context, map[string]any, schema.ContextView) (schema.Output, error) {
	return schema.Output{"text": j.text}, nil
}

func (j *portableEcho) ToSpec() schema.JobSpec {
	return schema.JobSpec{Class: "echo", ID: j.id, Data: map[string]any{"text": j.text}}
}

func echoFactory(spec schema.JobSpec) (schema.Job, error) {
	text, _ := spec.Data["text"].(string)
	return &portableEcho{id: spec.ID, text: text}, nil
}

func TestRegistryRoundTrip(t *testing.T) {
	reg := NewRegistry()
	reg.Register("echo", echoFactory)

	original := &portableEcho{id: "step-1", text: "hola"}
	encoded, err := original.ToSpec().Encode()
	require.NoError(t, err)

	job, err := reg.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, "step-1", job.ID())

	out, err := job.Run(context.Background(), nil, schema.ContextView{})
	require.NoError(t, err)
	assert.Equal(t, "hola", out["text"])
}

func TestRegistryUnknownClass(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.FromSpec(schema.JobSpec{Class: "mystery", ID: "x"})
	require.Error(t, err)

	var ferr *schema.FlowError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, schema.ErrCodeNotFound, ferr.Code)
}

func TestRegistryDecodeGarbage(t *testing.T) {
	reg := NewRegistry()
	reg.Register("echo", echoFactory)

	_, err := reg.Decode("not-base64!!!")
	require.Error(t, err)
}

func TestRegistryClasses(t *testing.T) {
	reg := NewRegistry()
	reg.Register("echo", echoFactory)
	reg.Register("other", echoFactory)

	assert.ElementsMatch(t, []string{"echo", "other"}, reg.Classes())
}
