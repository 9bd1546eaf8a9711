package main

import (
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"github.com/spf13/cobra"
	"io"
	"os"
	"path/filepath"
	"pollsock.it/utils/cert"
	"pollsock.it/utils/errs"
)

const (
	authorityName = "pollsock ca"
	organization  = "pollsock"
	serverName    = "server"
)

func newGencertCmd() *cobra.Command {
	var dir string
	var hosts []string

	cmd := &cobra.Command{
		Use:   "gencert",
		Short: "Write a CA and a server certificate for TLS tunnels",
		Long: `Write a self-signed CA and a server certificate issued by it.

The server uses server.crt and server.key (tls.cert, tls.key); clients trust
the CA certificate (tls.ca_cert).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return generate(dir, hosts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "certs", "output directory")
	cmd.Flags().StringSliceVar(&hosts, "hosts", []string{"localhost", "127.0.0.1"}, "server host names and addresses")
	return cmd
}

func generate(dir string, hosts []string, out io.Writer) error {
	if len(hosts) == 0 {
		return errors.New("at least one host is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errs.WithStack(err)
	}

	ca, err := cert.NewAuthority(pkix.Name{CommonName: authorityName, Organization: []string{organization}})
	if err != nil {
		return err
	}
	caName := cert.FileName(authorityName)
	if err := ca.WriteFiles(dir, caName); err != nil {
		return err
	}

	server, err := ca.Issue(pkix.Name{CommonName: hosts[0], Organization: []string{organization}}, hosts...)
	if err != nil {
		return err
	}
	if err := server.WriteFiles(dir, serverName); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "CA:     %s\n", filepath.Join(dir, caName+".crt"))
	_, _ = fmt.Fprintf(out, "server: %s, %s\n", filepath.Join(dir, serverName+".crt"), filepath.Join(dir, serverName+".key"))
	return nil
}
