package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

var (
	_ SecretProvider = (*EnvVarProvider)(nil)
	_ SecretProvider = (*SSMProvider)(nil)
)

func TestEnvVarProvider(t *testing.T) {
	t.Setenv("PK_TEST_PRESENT", "value")
	t.Setenv("PK_TEST_EMPTY", "")

	got, err := NewEnvVarProvider().GetParametersBatch(context.Background(),
		[]string{"PK_TEST_PRESENT", "PK_TEST_EMPTY", "PK_TEST_MISSING_XYZ"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["PK_TEST_PRESENT"] != "value" {
		t.Errorf("PK_TEST_PRESENT = %q", got["PK_TEST_PRESENT"])
	}
	if v, ok := got["PK_TEST_EMPTY"]; !ok || v != "" {
		t.Error("an empty but set variable should resolve to an empty string")
	}
	if _, ok := got["PK_TEST_MISSING_XYZ"]; ok {
		t.Error("missing variables should be omitted")
	}
}

type mockSSMClient struct {
	store   map[string]string
	err     error
	batches [][]string
}

func (m *mockSSMClient) GetParameters(_ context.Context, in *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	m.batches = append(m.batches, in.Names)
	if m.err != nil {
		return nil, m.err
	}
	if !aws.ToBool(in.WithDecryption) {
		return nil, errors.New("decryption not requested")
	}
	out := &ssm.GetParametersOutput{}
	for _, name := range in.Names {
		if v, ok := m.store[name]; ok {
			out.Parameters = append(out.Parameters, ssmtypes.Parameter{Name: aws.String(name), Value: aws.String(v)})
		} else {
			out.InvalidParameters = append(out.InvalidParameters, name)
		}
	}
	return out, nil
}

func TestSSMProviderBatches(t *testing.T) {
	store := make(map[string]string)
	keys := make([]string, 0, 23)
	for i := 0; i < 23; i++ {
		k := fmt.Sprintf("/prod/pollkeeper/p%02d", i)
		store[k] = fmt.Sprintf("v%02d", i)
		keys = append(keys, k)
	}
	client := &mockSSMClient{store: store}

	got, err := newSSMProviderWithClient(client).GetParametersBatch(context.Background(), keys)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 23 || got["/prod/pollkeeper/p22"] != "v22" {
		t.Errorf("unexpected result: %v", got)
	}
	if len(client.batches) != 3 || len(client.batches[0]) != 10 || len(client.batches[2]) != 3 {
		t.Errorf("expected batches of 10/10/3, got %d batches", len(client.batches))
	}
}

func TestSSMProviderErrors(t *testing.T) {
	t.Run("invalid parameter", func(t *testing.T) {
		client := &mockSSMClient{store: map[string]string{}}
		_, err := newSSMProviderWithClient(client).GetParametersBatch(context.Background(), []string{"/missing"})
		if err == nil || !strings.Contains(err.Error(), "/missing") {
			t.Errorf("expected not found error naming the parameter, got %v", err)
		}
	})

	t.Run("api error", func(t *testing.T) {
		boom := errors.New("AccessDenied")
		client := &mockSSMClient{err: boom}
		_, err := newSSMProviderWithClient(client).GetParametersBatch(context.Background(), []string{"/a"})
		if !errors.Is(err, boom) {
			t.Errorf("expected wrapped api error, got %v", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		client := &mockSSMClient{}
		_, err := newSSMProviderWithClient(client).GetParametersBatch(ctx, []string{"/a"})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if len(client.batches) != 0 {
			t.Error("no call should be made after cancellation")
		}
	})
}

func TestSSMProviderEmptyKeys(t *testing.T) {
	// No client and no AWS config needed for an empty request.
	got, err := NewSSMProvider("us-east-1", "").GetParametersBatch(context.Background(), nil)
	if err != nil || len(got) != 0 {
		t.Errorf("expected empty map, got %v, %v", got, err)
	}
}

func TestNewBuildInfoDefaults(t *testing.T) {
	info := NewBuildInfo()
	if info.Version != "dev" || info.Commit != "none" || info.BuildTime != "unknown" {
		t.Errorf("unexpected defaults: %+v", info)
	}
}
