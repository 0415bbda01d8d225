package cognito

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"

	"github.com/acs-lambda/delete-user/internal/domain"
)

type fakeAPI struct {
	err    error
	lastIn *cognitoidentityprovider.AdminDeleteUserInput
}

func (f *fakeAPI) AdminDeleteUser(_ context.Context, in *cognitoidentityprovider.AdminDeleteUserInput, _ ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.AdminDeleteUserOutput, error) {
	f.lastIn = in
	if f.err != nil {
		return nil, f.err
	}
	return &cognitoidentityprovider.AdminDeleteUserOutput{}, nil
}

func TestNew_Validates(t *testing.T) {
	_, err := New(nil, "pool")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")

	_, err = New(&fakeAPI{}, "  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}

func TestDeleteAccount_HappyPath(t *testing.T) {
	api := &fakeAPI{}
	c, err := New(api, "us-east-1_pool")
	require.NoError(t, err)

	require.NoError(t, c.DeleteAccount(context.Background(), "u-42"))
	require.Equal(t, "us-east-1_pool", aws.ToString(api.lastIn.UserPoolId))
	require.Equal(t, "u-42", aws.ToString(api.lastIn.Username))
}

func TestDeleteAccount_EmptyUsername(t *testing.T) {
	api := &fakeAPI{}
	c, err := New(api, "pool")
	require.NoError(t, err)

	err = c.DeleteAccount(context.Background(), " ")
	require.Error(t, err)
	require.Nil(t, api.lastIn)
}

func TestDeleteAccount_ClassifiesNotFound(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{name: "typed", err: &types.UserNotFoundException{Message: aws.String("User does not exist.")}},
		{name: "generic api error", err: &smithy.GenericAPIError{Code: "UserNotFoundException", Message: "User does not exist."}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := New(&fakeAPI{err: tc.err}, "pool")
			require.NoError(t, err)

			err = c.DeleteAccount(context.Background(), "u-42")
			require.ErrorIs(t, err, domain.ErrAccountNotFound)
			require.ErrorContains(t, err, "User does not exist.")
		})
	}
}

func TestDeleteAccount_OtherFailure(t *testing.T) {
	c, err := New(&fakeAPI{err: &smithy.GenericAPIError{Code: "TooManyRequestsException", Message: "slow down"}}, "pool")
	require.NoError(t, err)

	err = c.DeleteAccount(context.Background(), "u-42")
	require.Error(t, err)
	require.False(t, errors.Is(err, domain.ErrAccountNotFound))
	require.Contains(t, err.Error(), "slow down")
}
