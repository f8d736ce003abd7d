package service_test

import (
	"context"
	"crypto/x509"
	"testing"

	"github.com/makkenzo/license-engine/internal/codec"
	"github.com/makkenzo/license-engine/internal/ierr"
	"github.com/makkenzo/license-engine/internal/service"
	"github.com/makkenzo/license-engine/internal/storage"
	"github.com/makkenzo/license-engine/internal/trust"
	"github.com/makkenzo/license-engine/internal/trust/trusttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLicenseService_Upload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.manager.Init(ctx))

	root := trusttest.NewRoot(t, "root")
	verifier := trust.NewVerifier(trust.EnvelopePrimitive{}, []*x509.Certificate{root.Cert}, zap.NewNop())
	svc := service.NewLicenseService(f.manager, storage.NewCodec(verifier), zap.NewNop())

	doc, err := codec.Encode(lic(100, "doc-export"))
	require.NoError(t, err)

	unsigned, changed, err := svc.Upload(ctx, doc)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, unsigned.IsSigned())

	signedDoc, err := codec.Encode(lic(10, "doc-export"))
	require.NoError(t, err)
	blob := trusttest.Sign(t, signedDoc, root.Issue(t, "signer", false))

	signed, changed, err := svc.Upload(ctx, blob)
	require.NoError(t, err)
	assert.True(t, changed, "signed beats unsigned")
	assert.True(t, signed.IsSigned())

	got, ok := f.manager.Get("reporting")
	require.True(t, ok)
	assert.Equal(t, signed.ID(), got.ID())
	assert.True(t, f.store.Has(signed.ID()))
}

func TestLicenseService_UploadRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	root := trusttest.NewRoot(t, "root")
	rogue := trusttest.NewRoot(t, "rogue")
	verifier := trust.NewVerifier(trust.EnvelopePrimitive{}, []*x509.Certificate{root.Cert}, zap.NewNop())
	svc := service.NewLicenseService(f.manager, storage.NewCodec(verifier), zap.NewNop())

	_, _, err := svc.Upload(ctx, nil)
	assert.ErrorIs(t, err, ierr.ErrValidation)

	_, _, err = svc.Upload(ctx, []byte("<?xml version=\"1.0\"?><nope/>"))
	assert.ErrorIs(t, err, ierr.ErrDecoding)

	doc, err := codec.Encode(lic(100, "doc-export"))
	require.NoError(t, err)
	_, _, err = svc.Upload(ctx, trusttest.Sign(t, doc, rogue.Issue(t, "signer", false)))
	assert.ErrorIs(t, err, ierr.ErrUntrusted)

	assert.Empty(t, f.manager.ActiveLicenses())
	assert.Zero(t, f.store.Len())
}

func TestLicenseService_Inspect(t *testing.T) {
	f := newFixture(t)
	svc := service.NewLicenseService(f.manager, storage.NewCodec(nil), zap.NewNop())

	l := lic(100, "doc-export")
	doc, err := codec.Encode(l)
	require.NoError(t, err)

	got, err := svc.Inspect(doc)
	require.NoError(t, err)
	assert.Equal(t, l.ID(), got.ID())
	assert.Empty(t, f.manager.ActiveLicenses())
}
