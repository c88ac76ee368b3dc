// Package credentials loads the four Twitter API secrets used by the collectors.
package credentials

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/core"
	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/redact"
)

const stage = "credentials"

// Env var names read by FromEnv.
const (
	EnvConsumerKey       = "TWITTER_CONSUMER_KEY"
	EnvConsumerSecret    = "TWITTER_CONSUMER_SECRET"
	EnvAccessToken       = "TWITTER_ACCESS_TOKEN"
	EnvAccessTokenSecret = "TWITTER_ACCESS_TOKEN_SECRET"
)

// Credentials holds consumer and access-token secrets.
//
// The String and LogValue methods mask every field, so a Credentials value can be
// passed to fmt or slog without leaking secrets.
type Credentials struct {
	ConsumerKey       string `yaml:"consumer_key"`
	ConsumerSecret    string `yaml:"consumer_secret"`
	AccessToken       string `yaml:"access_token"`
	AccessTokenSecret string `yaml:"access_token_secret"`
}

// Load reads credentials from a JSON or YAML file.
func Load(path string) (Credentials, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Credentials{}, &core.ConfigurationError{Stage: stage, Err: errors.New("credentials file path is required")}
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Credentials{}, &core.ConfigurationError{Stage: stage, Err: fmt.Errorf("credentials file %s does not exist", path)}
		}
		return Credentials{}, &core.ConfigurationError{Stage: stage, Err: fmt.Errorf("read credentials file: %w", err)}
	}
	return Parse(b)
}

// Parse decodes and validates credentials. JSON input is accepted since it is valid YAML.
func Parse(b []byte) (Credentials, error) {
	var c Credentials
	if err := yaml.Unmarshal(b, &c); err != nil {
		// The decoder echoes offending input; keep secrets out of the message.
		return Credentials{}, &core.ConfigurationError{Stage: stage, Err: errors.New("parse credentials: " + redact.Secrets(err.Error()))}
	}
	c = c.trimmed()
	if err := c.Validate(); err != nil {
		return Credentials{}, err
	}
	return c, nil
}

// FromEnv reads credentials from the TWITTER_* environment variables.
func FromEnv() (Credentials, error) {
	c := Credentials{
		ConsumerKey:       os.Getenv(EnvConsumerKey),
		ConsumerSecret:    os.Getenv(EnvConsumerSecret),
		AccessToken:       os.Getenv(EnvAccessToken),
		AccessTokenSecret: os.Getenv(EnvAccessTokenSecret),
	}.trimmed()
	if err := c.Validate(); err != nil {
		return Credentials{}, err
	}
	return c, nil
}

// Validate fails with a ConfigurationError naming every missing field.
func (c Credentials) Validate() error {
	var missing []string
	if strings.TrimSpace(c.ConsumerKey) == "" {
		missing = append(missing, "consumer_key")
	}
	if strings.TrimSpace(c.ConsumerSecret) == "" {
		missing = append(missing, "consumer_secret")
	}
	if strings.TrimSpace(c.AccessToken) == "" {
		missing = append(missing, "access_token")
	}
	if strings.TrimSpace(c.AccessTokenSecret) == "" {
		missing = append(missing, "access_token_secret")
	}
	if len(missing) > 0 {
		return &core.ConfigurationError{Stage: stage, Missing: missing}
	}
	return nil
}

func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{consumer_key=%s access_token=%s}", redact.Mask(c.ConsumerKey), redact.Mask(c.AccessToken))
}

func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("consumer_key", redact.Mask(c.ConsumerKey)),
		slog.String("access_token", redact.Mask(c.AccessToken)),
	)
}

func (c Credentials) trimmed() Credentials {
	return Credentials{
		ConsumerKey:       strings.TrimSpace(c.ConsumerKey),
		ConsumerSecret:    strings.TrimSpace(c.ConsumerSecret),
		AccessToken:       strings.TrimSpace(c.AccessToken),
		AccessTokenSecret: strings.TrimSpace(c.AccessTokenSecret),
	}
}
