package connector

import (
	"context"
	"testing"

	"github.com/crimson-sun/watchdog/internal/model"
)

type nopConnector struct{}

func (nopConnector) Stream(context.Context, ConnectorConfig) (<-chan model.RawLog, error) {
	ch := make(chan model.RawLog)
	close(ch)
	return ch, nil
}

func (nopConnector) Query(context.Context, ConnectorConfig, QueryParams) ([]model.RawLog, error) {
	return nil, nil
}

func TestRegisterAndGet(t *testing.T) {
	Register("zz-test", func() Connector { return nopConnector{} })
	Register("aa-test", func() Connector { return nopConnector{} })

	ctor, err := Get("zz-test")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if ctor() == nil {
		t.Fatal("constructor returned nil")
	}

	names := Providers()
	var a, z = -1, -1
	for i, n := range names {
		switch n {
		case "aa-test":
			a = i
		case "zz-test":
			z = i
		}
	}
	if a < 0 || z < 0 || a > z {
		t.Errorf("Providers() = %v, want sorted and containing both test providers", names)
	}
}

func TestGetUnknown(t *testing.T) {
	if _, err := Get("does-not-exist"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
