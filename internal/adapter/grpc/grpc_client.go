package grpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"
	"time"

	"github.com/aq2208/course-orders/configs"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

var ErrBadCACert = errors.New("unable to parse CA cert")

// DialContent connects to the content service. The caller closes the conn.
func DialContent(ctx context.Context, cfg configs.Config) (*grpc.ClientConn, error) {
	c := cfg.Content
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	opts := []grpc.DialOption{
		grpc.WithBlock(),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff: backoff.Config{
				BaseDelay:  200 * time.Millisecond,
				Multiplier: 1.6,
				Jitter:     0.2,
				MaxDelay:   5 * time.Second,
			},
			MinConnectTimeout: timeout,
		}),
		grpc.WithDefaultServiceConfig(`{"loadBalancingPolicy":"round_robin"}`),
	}

	creds, err := transportCredentials(c.UseTLS, c.CACertPath, c.ServerName)
	if err != nil {
		return nil, err
	}
	opts = append(opts, grpc.WithTransportCredentials(creds))

	if c.MaxRecvBytes > 0 {
		opts = append(opts, grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(c.MaxRecvBytes)))
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return grpc.DialContext(dialCtx, c.Target, opts...)
}

func transportCredentials(useTLS bool, caPath, serverName string) (credentials.TransportCredentials, error) {
	if !useTLS {
		return insecure.NewCredentials(), nil
	}
	if caPath == "" {
		// system roots
		return credentials.NewClientTLSFromCert(nil, serverName), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(pem); !ok {
		return nil, ErrBadCACert
	}
	tlsCfg := &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	if serverName != "" {
		tlsCfg.ServerName = serverName
	}
	return credentials.NewTLS(tlsCfg), nil
}
