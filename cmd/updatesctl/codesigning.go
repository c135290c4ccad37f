/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/kentakayama/updates-over-http/internal/codesigning"
	"github.com/kentakayama/updates-over-http/internal/config"
)

const (
	privateKeyFile  = "private-key.pem"
	publicKeyFile   = "public-key.pem"
	certificateFile = "certificate.pem"
)

func runGenerate(args []string, stdout io.Writer) error {
	fs := newFlagSet("codesigning:generate")
	keyDir := fs.String("key-output-directory", "", "directory to write private-key.pem and public-key.pem to")
	certDir := fs.String("certificate-output-directory", "", "directory to write certificate.pem to")
	years := fs.Int("certificate-validity-duration-years", 0, "validity of the certificate in years")
	commonName := fs.String("certificate-common-name", "", "common name of the certificate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *keyDir == "" || *certDir == "" || *commonName == "" {
		return errors.New("--key-output-directory, --certificate-output-directory and --certificate-common-name are required")
	}
	if *years <= 0 {
		return errors.New("--certificate-validity-duration-years must be positive")
	}

	kp, err := codesigning.GenerateCodeSigning(*commonName, *years)
	if err != nil {
		return err
	}
	privPEM, err := codesigning.EncodePrivateKeyPEM(kp.PrivateKey)
	if err != nil {
		return err
	}
	pubPEM, err := codesigning.EncodePublicKeyPEM(&kp.PrivateKey.PublicKey)
	if err != nil {
		return err
	}

	for _, dir := range []string{*keyDir, *certDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(filepath.Join(*keyDir, privateKeyFile), []byte(privPEM), 0o600); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(*keyDir, publicKeyFile), []byte(pubPEM), 0o644); err != nil {
		return err
	}
	certPath := filepath.Join(*certDir, certificateFile)
	if err := os.WriteFile(certPath, []byte(codesigning.EncodeCertificatePEM(kp.Certificate)), 0o644); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Generated public and private keys output to %s\n", *keyDir)
	fmt.Fprintf(stdout, "Generated code signing certificate output to %s\n", certPath)
	return nil
}

// runConfigure checks a generated key pair and points the codeSigning
// section of the config file at the certificate.
func runConfigure(args []string, stdout io.Writer) error {
	fs := newFlagSet("codesigning:configure")
	configPath := fs.String("config", defaultConfigPath, "config file to update")
	certDir := fs.String("certificate-input-directory", "", "directory holding certificate.pem")
	keyDir := fs.String("key-input-directory", "", "directory holding private-key.pem")
	keyID := fs.String("keyid", codesigning.DefaultKeyID, "key id to expect in signatures")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *certDir == "" || *keyDir == "" {
		return errors.New("--certificate-input-directory and --key-input-directory are required")
	}

	certPath := filepath.Join(*certDir, certificateFile)
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return err
	}
	keyPEM, err := os.ReadFile(filepath.Join(*keyDir, privateKeyFile))
	if err != nil {
		return err
	}
	cert, err := codesigning.ParseCertificatePEM(string(certPEM))
	if err != nil {
		return err
	}
	if !cert.IsCodeSigningCertificate() {
		return codesigning.ErrCertificateMissingCodeSigning
	}
	key, err := codesigning.ParsePrivateKeyPEM(string(keyPEM))
	if err != nil {
		return err
	}
	if err := codesigning.ValidateKeyPair(key, cert); err != nil {
		return err
	}

	doc := map[string]any{}
	data, err := os.ReadFile(*configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("decode %s: %w", *configPath, err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return err
	}

	ref, err := relativeTo(filepath.Dir(*configPath), certPath)
	if err != nil {
		return err
	}
	doc["codeSigning"] = config.CodeSigningConfig{
		Certificate: ref,
		Metadata: map[string]string{
			codesigning.MetadataKeyID:     *keyID,
			codesigning.MetadataAlgorithm: string(codesigning.DefaultAlgorithm),
		},
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*configPath, out, 0o644); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Code signing configuration written to %s\n", *configPath)
	return nil
}

func relativeTo(base, target string) (string, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}
	return filepath.Rel(absBase, absTarget)
}
