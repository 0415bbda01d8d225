package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Client reads parameters stored under a common prefix. Values are cached for
// the lifetime of the process; failed reads are not cached.
type Client struct {
	api    ssmAPI
	prefix string

	mu    sync.Mutex
	cache map[string]string
}

// New creates a Client reading parameters below prefix.
func New(api ssmAPI, prefix string) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return nil, errors.New("paramstore: prefix must not be empty")
	}
	return &Client{api: api, prefix: prefix, cache: make(map[string]string)}, nil
}

// Name returns the full parameter name for key.
func (c *Client) Name(key string) string {
	return c.prefix + "/" + strings.TrimLeft(strings.TrimSpace(key), "/")
}

// Get returns the decrypted value of the parameter at prefix/key.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("paramstore: key is required")
	}
	name := c.Name(key)

	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.cache[name]; ok {
		return v, nil
	}

	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || strings.TrimSpace(aws.ToString(out.Parameter.Value)) == "" {
		return "", fmt.Errorf("paramstore: parameter %q has no value", name)
	}
	v := strings.TrimSpace(aws.ToString(out.Parameter.Value))
	c.cache[name] = v
	return v, nil
}
