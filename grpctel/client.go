package grpctel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/keltel/keys"
	"xdao.co/keltel/said"
	"xdao.co/keltel/tel"
)

// Client queries a remote controller's TEL over gRPC.
type Client struct {
	cc     *grpc.ClientConn
	client TELClient

	// Timeout applies per RPC when non-zero.
	Timeout time.Duration
}

type DialOptions struct {
	// Timeout applies to the initial dial when non-zero.
	Timeout time.Duration
}

func Dial(target string, opts DialOptions) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}

	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cc, err := grpc.DialContext(ctx, target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{cc: cc, client: NewTELClient(cc), Timeout: 0}, nil
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

// State returns the credential's lifecycle status.
func (c *Client) State(credential string) (tel.Status, error) {
	ctx, cancel := c.ctx()
	defer cancel()

	reply, err := c.client.State(ctx, wrapperspb.String(credential))
	if err != nil {
		return "", err
	}
	return tel.Status(reply.GetValue()), nil
}

// Log returns the credential's verifiable event log oldest-first.
func (c *Client) Log(credential string) ([]tel.VerifiableEvent, error) {
	ctx, cancel := c.ctx()
	defer cancel()

	reply, err := c.client.Log(ctx, wrapperspb.String(credential))
	if err != nil {
		return nil, err
	}
	var log []tel.VerifiableEvent
	if err := json.Unmarshal(reply.GetValue(), &log); err != nil {
		return nil, fmt.Errorf("grpctel: decoding credential log: %w", err)
	}
	return log, nil
}

// SigningKeys returns the key set that was authoritative at the
// credential's anchored point.
func (c *Client) SigningKeys(credential string) ([]keys.PublicKey, error) {
	ctx, cancel := c.ctx()
	defer cancel()

	reply, err := c.client.SigningKeys(ctx, wrapperspb.String(credential))
	if err != nil {
		return nil, err
	}
	var encoded []string
	if err := json.Unmarshal(reply.GetValue(), &encoded); err != nil {
		return nil, fmt.Errorf("grpctel: decoding key set: %w", err)
	}
	out := make([]keys.PublicKey, len(encoded))
	for i, s := range encoded {
		k, err := keys.ParsePublic(s)
		if err != nil {
			return nil, err
		}
		out[i] = k
	}
	return out, nil
}

// VerifyMessage verifies a signature for a message client-side: it derives
// the credential digest under alg, gates on the remote state, and checks
// the signature under every resolved signing key.
func (c *Client) VerifyMessage(message, signature []byte, alg said.Alg) (bool, error) {
	credential, err := alg.SumString(message)
	if err != nil {
		return false, err
	}
	state, err := c.State(credential)
	if err != nil {
		return false, err
	}
	switch state {
	case tel.StatusNotIssued:
		return false, errors.New("grpctel: credential not yet issued")
	case tel.StatusRevoked:
		return false, errors.New("grpctel: credential was revoked")
	}

	ks, err := c.SigningKeys(credential)
	if err != nil {
		return false, err
	}
	if len(ks) == 0 {
		return false, errors.New("grpctel: empty signing key set")
	}
	for _, k := range ks {
		ok, err := k.Verify(message, signature)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (c *Client) ctx() (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), c.Timeout)
}
