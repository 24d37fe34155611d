package rest

import (
	"crypto/tls"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// certStore serves the current key pair from disk and re-reads it on a
// timer, so rotated certificates apply without a restart.
type certStore struct {
	certFile, keyFile string
	log               *zap.Logger
	current           atomic.Pointer[tls.Certificate]
}

func loadCertStore(certFile, keyFile string, log *zap.Logger) (*certStore, error) {
	cs := &certStore{certFile: certFile, keyFile: keyFile, log: log}
	if err := cs.load(); err != nil {
		return nil, err
	}
	return cs, nil
}

func (cs *certStore) load() error {
	pair, err := tls.LoadX509KeyPair(cs.certFile, cs.keyFile)
	if err != nil {
		return fmt.Errorf("load key pair %s: %w", cs.certFile, err)
	}
	cs.current.Store(&pair)
	cs.log.Info("TLS certificate loaded", zap.String("cert_file", cs.certFile))
	return nil
}

func (cs *certStore) get(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return cs.current.Load(), nil
}

// watch reloads every interval until stop is closed. On a failed load the
// previous pair keeps serving.
func (cs *certStore) watch(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if err := cs.load(); err != nil {
				cs.log.Error("TLS certificate reload failed, keeping previous", zap.Error(err))
			}
		}
	}
}
