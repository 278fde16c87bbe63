package devops

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSSM struct {
	value *string
	asked string
}

func (f *fakeSSM) GetParameter(_ context.Context, params *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.asked = aws.ToString(params.Name)
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: f.value}}, nil
}

const databases = `
- name: Production
  host: db.internal
  username: punch
  password: s3cret
- name: staging
  host: staging.internal:3307
  username: punch
  password: other
`

func TestResolveDSN(t *testing.T) {
	client := &fakeSSM{value: aws.String(databases)}

	dsn, err := ResolveDSN(context.Background(), client, "", "production", "punchcard")
	require.NoError(t, err)
	assert.Equal(t, DefaultParameter, client.asked)
	assert.Equal(t, "punch:s3cret@tcp(db.internal:3306)/punchcard?parseTime=true", dsn)

	dsn, err = ResolveDSN(context.Background(), client, "/punchcard/databases", "staging", "punchcard")
	require.NoError(t, err)
	assert.Equal(t, "/punchcard/databases", client.asked)
	assert.Equal(t, "punch:other@tcp(staging.internal:3307)/punchcard?parseTime=true", dsn)

	_, err = ResolveDSN(context.Background(), client, "", "missing", "punchcard")
	assert.Error(t, err)
}

func TestLoadDBConfigEmpty(t *testing.T) {
	_, err := LoadDBConfig(context.Background(), &fakeSSM{}, "databases")
	assert.Error(t, err)
}
