/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package codesigning

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

const (
	PEMTypePrivateKey = "PRIVATE KEY"
	PEMTypePublicKey  = "PUBLIC KEY"

	defaultKeyBits = 2048
)

// CertificateTemplate describes a certificate issued by GenerateCertificate.
type CertificateTemplate struct {
	CommonName string
	NotBefore  time.Time
	NotAfter   time.Time
	// IsCA issues a certificate authority with keyCertSign; otherwise a code
	// signing leaf is issued.
	IsCA               bool
	ProjectInformation *ExpoProjectInformation
}

// KeyPair is an RSA key with the certificate holding its public half.
type KeyPair struct {
	PrivateKey  *rsa.PrivateKey
	Certificate *Certificate
}

// GenerateKey creates a 2048-bit RSA key.
func GenerateKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, defaultKeyBits)
}

// GenerateCertificate issues a certificate for key from tmpl. A nil parent
// produces a self-signed certificate.
func GenerateCertificate(tmpl CertificateTemplate, key *rsa.PrivateKey, parent *KeyPair) (*Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 126))
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: tmpl.CommonName},
		NotBefore:             tmpl.NotBefore,
		NotAfter:              tmpl.NotAfter,
		BasicConstraintsValid: true,
		IsCA:                  tmpl.IsCA,
	}
	if tmpl.IsCA {
		template.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature
	} else {
		template.KeyUsage = x509.KeyUsageDigitalSignature
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning}
	}
	if info := tmpl.ProjectInformation; info != nil {
		value, err := asn1.MarshalWithParams(info.ProjectID+","+info.ScopeKey, "utf8")
		if err != nil {
			return nil, fmt.Errorf("encode project information: %w", err)
		}
		template.ExtraExtensions = append(template.ExtraExtensions, pkix.Extension{
			Id:    OIDExpoProjectInformation,
			Value: value,
		})
	}

	issuer := template
	signer := key
	if parent != nil {
		issuer = parent.Certificate.cert
		signer = parent.PrivateKey
	}

	der, err := x509.CreateCertificate(rand.Reader, template, issuer, &key.PublicKey, signer)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	return ParseCertificate(der)
}

// GenerateCodeSigning creates a key and a self-signed code signing
// certificate valid for the given number of years.
func GenerateCodeSigning(commonName string, years int) (*KeyPair, error) {
	key, err := GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	now := time.Now()
	cert, err := GenerateCertificate(CertificateTemplate{
		CommonName: commonName,
		NotBefore:  now.Add(-time.Minute),
		NotAfter:   now.AddDate(years, 0, 0),
	}, key, nil)
	if err != nil {
		return nil, err
	}
	return &KeyPair{PrivateKey: key, Certificate: cert}, nil
}

// ValidateKeyPair checks that the certificate is currently valid and holds
// the public half of key.
func ValidateKeyPair(key *rsa.PrivateKey, cert *Certificate) error {
	if !cert.CheckValidity() {
		return ErrCertificateValidity
	}
	pub, ok := cert.cert.PublicKey.(*rsa.PublicKey)
	if !ok || !key.PublicKey.Equal(pub) {
		return ErrKeyPairMismatch
	}
	return nil
}

func EncodeCertificatePEM(cert *Certificate) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: PEMTypeCertificate, Bytes: cert.cert.Raw}))
}

func EncodePrivateKeyPEM(key *rsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("marshal private key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: PEMTypePrivateKey, Bytes: der})), nil
}

func EncodePublicKeyPEM(key *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: PEMTypePublicKey, Bytes: der})), nil
}

// ParsePrivateKeyPEM accepts PKCS#8 and PKCS#1 RSA keys.
func ParsePrivateKeyPEM(s string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, ErrPrivateKeyEncoding
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrivateKeyEncoding, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrPrivateKeyEncoding)
	}
	return key, nil
}
