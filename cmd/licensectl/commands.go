package main

import (
	"crypto"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/makkenzo/license-engine/internal/codec"
	"github.com/makkenzo/license-engine/internal/domain/license"
	"github.com/makkenzo/license-engine/internal/handler/dto"
	"github.com/makkenzo/license-engine/internal/storage"
	"github.com/makkenzo/license-engine/internal/trust"
	"github.com/makkenzo/license-engine/internal/util"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "licensectl",
		Short:         "Issue, sign and inspect licenses for the license engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newKeygenCmd(), newEncodeCmd(), newSignCmd(), newInspectCmd())
	return root
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an API key and the bcrypt hash to put in server.apiKeyHash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fullKey, keyHash, err := util.GenerateAPIKey()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "API Key (SAVE THIS securely!): %s\n", fullKey)
			fmt.Fprintf(out, "Key Hash: %s\n", keyHash)
			return nil
		},
	}
}

type encodeOptions struct {
	id        string
	typ       string
	features  []string
	instances []string
	expires   string
	maxUsers  int64
	licensee  map[string]string
	output    string
}

func newEncodeCmd() *cobra.Command {
	var opts encodeOptions
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Build an unsigned XML license",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := opts.build()
			if err != nil {
				return err
			}
			content, err := codec.Encode(l)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), opts.output, content)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.id, "id", "", "license id (generated when empty)")
	f.StringVar(&opts.typ, "type", license.TypePaid.String(), "license type")
	f.StringArrayVar(&opts.features, "feature", nil, "feature as name or name:range, repeatable")
	f.StringArrayVar(&opts.instances, "instance", nil, "instance the license is restricted to, repeatable")
	f.StringVar(&opts.expires, "expires", "", "expiration as RFC 3339 timestamp")
	f.Int64Var(&opts.maxUsers, "max-users", license.Unlimited, "maximum number of users")
	f.StringToStringVar(&opts.licensee, "licensee", nil, "licensee attributes as key=value")
	f.StringVarP(&opts.output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func (o *encodeOptions) build() (*license.Unsigned, error) {
	typ, err := license.ParseType(o.typ)
	if err != nil {
		return nil, err
	}
	l := license.NewUnsigned().SetType(typ).SetMaxUsers(o.maxUsers).SetLicensee(o.licensee)

	if o.id != "" {
		id, err := uuid.Parse(o.id)
		if err != nil {
			return nil, fmt.Errorf("invalid --id: %w", err)
		}
		l.SetID(id)
	}
	for _, spec := range o.features {
		name, constraint, _ := strings.Cut(spec, ":")
		fid, err := license.NewFeatureID(name, constraint)
		if err != nil {
			return nil, fmt.Errorf("invalid --feature %q: %w", spec, err)
		}
		l.AddFeature(fid)
	}
	for _, inst := range o.instances {
		l.AddInstance(license.InstanceID(inst))
	}
	if o.expires != "" {
		at, err := time.Parse(time.RFC3339, o.expires)
		if err != nil {
			return nil, fmt.Errorf("invalid --expires: %w", err)
		}
		l.SetExpiresAt(at)
	}
	return l, nil
}

func newSignCmd() *cobra.Command {
	var keyFile, chainFile, output string
	cmd := &cobra.Command{
		Use:   "sign <license.xml>",
		Short: "Wrap an XML license in a signed envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if _, err := codec.Decode(payload); err != nil {
				return fmt.Errorf("refusing to sign: %w", err)
			}
			signer, err := loadSigner(keyFile)
			if err != nil {
				return err
			}
			chain, err := loadChain(chainFile)
			if err != nil {
				return err
			}
			blob, err := trust.Sign(payload, trust.Identity{Signer: signer, Chain: chain})
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), output, blob)
		},
	}
	f := cmd.Flags()
	f.StringVar(&keyFile, "key", "", "PEM private key of the signing certificate")
	f.StringVar(&chainFile, "chain", "", "PEM certificate chain, root first and signing certificate last")
	f.StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("chain")
	return cmd
}

func newInspectCmd() *cobra.Command {
	var rootsFile string
	cmd := &cobra.Command{
		Use:   "inspect <license>",
		Short: "Decode a license, verifying signed envelopes against trusted roots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			var verifier trust.LicenseVerifier
			if rootsFile != "" {
				roots, err := trust.LoadRoots(rootsFile)
				if err != nil {
					return err
				}
				verifier = trust.NewVerifier(trust.EnvelopePrimitive{}, roots, zap.NewNop())
			}

			l, err := storage.NewCodec(verifier).Decode(content)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(dto.NewLicenseResponse(l, 0))
		},
	}
	cmd.Flags().StringVar(&rootsFile, "roots", "", "PEM file of trusted root certificates")
	return cmd
}

func loadSigner(path string) (crypto.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found in key file")
	}

	var key any
	switch block.Type {
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	default:
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", key)
	}
	return signer, nil
}

func loadChain(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var chain []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse chain certificate: %w", err)
		}
		chain = append(chain, cert)
	}
	if len(chain) == 0 {
		return nil, errors.New("no certificates found in chain file")
	}
	return chain, nil
}

func writeOutput(stdout io.Writer, path string, content []byte) error {
	if path == "" {
		_, err := stdout.Write(content)
		return err
	}
	return os.WriteFile(path, content, 0o644)
}
