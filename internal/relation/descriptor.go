// Package relation turns the data exposed by dependent services into
// connection URIs, and talks back to those services through the host's
// hook tools.
package relation

import (
	"errors"
	"fmt"
	"net"
	"net/url"
)

const (
	// BrokerPort is fixed; the amqp interface does not publish a port.
	BrokerPort = "5672"
	// BrokerBackend is the celery result backend written alongside the broker.
	BrokerBackend = "rpc://"

	// AccessUsername and AccessVhost are requested from the broker.
	AccessUsername = "reviewqueue"
	AccessVhost    = "reviewqueue"
)

var errIncomplete = errors.New("relation data incomplete")

// DatabaseDescriptor is what the PostgreSQL relation exposes.
type DatabaseDescriptor struct {
	User     string `json:"user"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     string `json:"port"`
	Database string `json:"database"`
}

func (d DatabaseDescriptor) Validate() error {
	if d.User == "" || d.Host == "" || d.Port == "" || d.Database == "" {
		return fmt.Errorf("database: %w", errIncomplete)
	}
	return nil
}

// URI renders the sqlalchemy connection URL.
func (d DatabaseDescriptor) URI() string {
	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, d.Port),
		Path:   "/" + d.Database,
	}
	return u.String()
}

// BrokerDescriptor is what the AMQP relation exposes.
type BrokerDescriptor struct {
	Username       string `json:"username"`
	Password       string `json:"password"`
	PrivateAddress string `json:"private_address"`
	Vhost          string `json:"vhost"`
}

func (b BrokerDescriptor) Validate() error {
	if b.Username == "" || b.PrivateAddress == "" || b.Vhost == "" {
		return fmt.Errorf("amqp: %w", errIncomplete)
	}
	return nil
}

// URI renders the celery broker URL.
func (b BrokerDescriptor) URI() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(b.Username, b.Password),
		Host:   net.JoinHostPort(b.PrivateAddress, BrokerPort),
		Path:   "/" + b.Vhost,
	}
	return u.String()
}
