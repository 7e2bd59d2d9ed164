package connect

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Credentials for object storage. Values live in process memory for
// the session; they are never written to disk or logged.
type Credentials struct {
	AccessKeyID     string `envconfig:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `envconfig:"AWS_SECRET_ACCESS_KEY"`
	SessionToken    string `envconfig:"AWS_SESSION_TOKEN"`
	Region          string `envconfig:"AWS_REGION" default:"us-east-1"`

	// Endpoint overrides the S3 endpoint, for MinIO and friends.
	Endpoint string `envconfig:"VECTAB_S3_ENDPOINT"`
}

// LoadCredentials reads credentials from a .env file, if present, and
// the environment. Fields set by the caller afterwards take priority.
func LoadCredentials() (*Credentials, error) {
	// A missing .env file is the normal case.
	_ = godotenv.Load()

	var c Credentials
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("read credentials from environment: %w", err)
	}
	return &c, nil
}

// Static reports whether explicit key material is present. Without it
// the AWS default chain (instance profiles, SSO) is used instead.
func (c *Credentials) Static() bool {
	return c != nil && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// String masks the credential material so accidental formatting never
// leaks it.
func (c *Credentials) String() string {
	return fmt.Sprintf("Credentials{region: %s, static: %t}", c.Region, c.Static())
}
