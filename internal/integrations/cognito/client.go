package cognito

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/smithy-go"

	"github.com/acs-lambda/delete-user/internal/domain"
)

const userNotFoundCode = "UserNotFoundException"

// cognitoAPI is the minimal Cognito user pool interface required by Client.
// *cognitoidentityprovider.Client satisfies it.
type cognitoAPI interface {
	AdminDeleteUser(ctx context.Context, in *cognitoidentityprovider.AdminDeleteUserInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.AdminDeleteUserOutput, error)
}

// Client deletes accounts from a single Cognito user pool.
type Client struct {
	api        cognitoAPI
	userPoolID string
}

// New creates a Client bound to userPoolID.
func New(api cognitoAPI, userPoolID string) (*Client, error) {
	if api == nil {
		return nil, errors.New("cognito: api must not be nil")
	}
	userPoolID = strings.TrimSpace(userPoolID)
	if userPoolID == "" {
		return nil, errors.New("cognito: user pool id must not be empty")
	}
	return &Client{api: api, userPoolID: userPoolID}, nil
}

// DeleteAccount removes the account whose pool username is username. When the
// pool has no such user the returned error wraps domain.ErrAccountNotFound.
func (c *Client) DeleteAccount(ctx context.Context, username string) error {
	if strings.TrimSpace(username) == "" {
		return errors.New("cognito: username is required")
	}
	_, err := c.api.AdminDeleteUser(ctx, &cognitoidentityprovider.AdminDeleteUserInput{
		UserPoolId: aws.String(c.userPoolID),
		Username:   aws.String(username),
	})
	if err == nil {
		return nil
	}
	if isUserNotFound(err) {
		return fmt.Errorf("cognito: delete %q: %w: %w", username, domain.ErrAccountNotFound, err)
	}
	return fmt.Errorf("cognito: delete %q: %w", username, err)
}

func isUserNotFound(err error) bool {
	var notFound *types.UserNotFoundException
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == userNotFoundCode
}
