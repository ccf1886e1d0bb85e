package params

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	cognitotypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type fakeSSM struct {
	values map[string]string
	calls  []*ssm.GetParameterInput
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls = append(f.calls, in)
	v, ok := f.values[aws.ToString(in.Name)]
	if !ok {
		return nil, &ssmtypes.ParameterNotFound{Message: aws.String("missing")}
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: aws.String(v)}}, nil
}

func TestStoreGet(t *testing.T) {
	client := &fakeSSM{values: map[string]string{
		"/jamar/agentcore/gateway_url": "https://gw.example.com/mcp",
		"/jamar/agentcore/empty":       "",
	}}
	s := NewStore(client, nil)

	got, err := s.Get(context.Background(), "/jamar/agentcore/gateway_url")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "https://gw.example.com/mcp" {
		t.Fatalf("Get = %q", got)
	}
	if !aws.ToBool(client.calls[0].WithDecryption) {
		t.Fatal("expected WithDecryption=true")
	}

	for _, name := range []string{"/jamar/agentcore/missing", "/jamar/agentcore/empty"} {
		if _, err := s.Get(context.Background(), name); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%s) err = %v, want ErrNotFound", name, err)
		}
	}
}

type fakeCognito struct {
	in  *cognitoidentityprovider.InitiateAuthInput
	out *cognitoidentityprovider.InitiateAuthOutput
	err error
}

func (f *fakeCognito) InitiateAuth(_ context.Context, in *cognitoidentityprovider.InitiateAuthInput, _ ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.InitiateAuthOutput, error) {
	f.in = in
	return f.out, f.err
}

func TestTokenIssuer(t *testing.T) {
	tests := []struct {
		name    string
		out     *cognitoidentityprovider.InitiateAuthOutput
		err     error
		want    string
		wantErr bool
	}{
		{
			name: "success",
			out: &cognitoidentityprovider.InitiateAuthOutput{
				AuthenticationResult: &cognitotypes.AuthenticationResultType{AccessToken: aws.String("tok-123")},
			},
			want: "tok-123",
		},
		{
			name:    "challenge without token",
			out:     &cognitoidentityprovider.InitiateAuthOutput{ChallengeName: cognitotypes.ChallengeNameTypeNewPasswordRequired},
			wantErr: true,
		},
		{
			name:    "api error",
			err:     errors.New("NotAuthorizedException"),
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeCognito{out: tt.out, err: tt.err}
			issuer := NewTokenIssuer(client, "svc", "pw")

			got, err := issuer.Token(context.Background(), "client-1", "pool-1")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("token = %q, want %q", got, tt.want)
			}
			if client.in.AuthFlow != cognitotypes.AuthFlowTypeUserPasswordAuth {
				t.Errorf("AuthFlow = %s", client.in.AuthFlow)
			}
			if aws.ToString(client.in.ClientId) != "client-1" || client.in.AuthParameters["USERNAME"] != "svc" {
				t.Errorf("unexpected input: %+v", client.in)
			}
		})
	}
}
