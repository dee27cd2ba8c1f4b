// Package certs classifies TLS certificate fetch results by the leaf
// certificate each probe was served.
package certs

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/jaxxstorm/probedigest/internal/aggregate"
	"github.com/jaxxstorm/probedigest/internal/classify"
	"github.com/jaxxstorm/probedigest/internal/model"
)

const (
	OutcomeNoCertificate  = "ERROR: no certificate"
	OutcomeBadCertificate = "ERROR: bad certificate"
)

type Options struct {
	HideExpiry bool
}

type Classifier struct {
	opts Options
}

func New(opts Options) *Classifier {
	return &Classifier{opts: opts}
}

func (c *Classifier) Classify(result model.RawProbeResult) aggregate.Contribution {
	contribution := aggregate.Contribution{ProbeID: result.ProbeID}
	if label, failed := classify.ProbeFailure(result); failed {
		contribution.Outcome = label
		return contribution
	}
	success := result.Outcome.(model.Success)
	payload, ok := success.Payload.(model.CertPayload)
	if !ok {
		contribution.Outcome = classify.UnexpectedPayload(success.Payload)
		return contribution
	}
	contribution.Outcome = c.key(payload.Chain)
	return contribution
}

func (c *Classifier) key(chain []string) string {
	if len(chain) == 0 {
		return OutcomeNoCertificate
	}
	leaf, err := ParseLeaf(chain[0])
	if err != nil {
		return OutcomeBadCertificate
	}
	issuer := name(leaf.Issuer.CommonName, leaf.Issuer.String())
	subject := name(leaf.Subject.CommonName, leaf.Subject.String())
	if c.opts.HideExpiry {
		return fmt.Sprintf("%s (issuer: %s)", subject, issuer)
	}
	return fmt.Sprintf("%s (issuer: %s, expires %s)", subject, issuer, leaf.NotAfter.UTC().Format("2006-01-02"))
}

var errNoPEM = errors.New("no PEM certificate block")

// ParseLeaf parses the first certificate block of a PEM string.
func ParseLeaf(data string) (*x509.Certificate, error) {
	rest := []byte(strings.TrimSpace(data))
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, errNoPEM
		}
		if block.Type == "CERTIFICATE" {
			return x509.ParseCertificate(block.Bytes)
		}
	}
}

func name(commonName, dn string) string {
	if commonName != "" {
		return commonName
	}
	return dn
}
