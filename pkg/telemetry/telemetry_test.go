package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/taskvault/pkg/config"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), &config.TelemetryConfig{Enabled: false}, nil)
	require.NoError(t, err)
	require.NotNil(t, tel)

	assert.False(t, tel.IsEnabled())
	assert.NotNil(t, tel.Tracer("test"), "disabled telemetry still hands out a usable tracer")
	assert.NotNil(t, tel.Meter("test"))
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.ForceFlush(context.Background()))
}

func TestNew_NilConfig(t *testing.T) {
	tel, err := New(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.False(t, tel.IsEnabled())
}

func TestNew_RejectsBadSampleRate(t *testing.T) {
	_, err := New(context.Background(), &config.TelemetryConfig{
		Enabled:    true,
		SampleRate: 1.5,
	}, nil)
	require.Error(t, err)
}

func TestNilReceiver(t *testing.T) {
	var tel *Telemetry

	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.False(t, tel.IsEnabled())
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.ForceFlush(context.Background()))
}

func TestTestTelemetry_RecordsSpans(t *testing.T) {
	tel := NewTestTelemetry()

	_, span := tel.Tracer("test").Start(context.Background(), "store.save")
	span.End()

	tel.AssertSpanExists(t, "store.save")
	assert.Nil(t, tel.SpanByName("absent"))
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(1).Description(), "AlwaysOn")
	assert.Contains(t, sampler(0).Description(), "AlwaysOff")
	assert.Contains(t, sampler(0.25).Description(), "0.25")
}

func TestSkipVerifyTLS(t *testing.T) {
	assert.Nil(t, skipVerifyTLS(&config.TelemetryConfig{Insecure: true, TLSSkipVerify: true}),
		"plaintext endpoints have no TLS to skip")
	assert.Nil(t, skipVerifyTLS(&config.TelemetryConfig{}))

	tc := skipVerifyTLS(&config.TelemetryConfig{TLSSkipVerify: true})
	require.NotNil(t, tc)
	assert.True(t, tc.InsecureSkipVerify)
}

func TestHTTPProtocol(t *testing.T) {
	assert.True(t, httpProtocol(&config.TelemetryConfig{Protocol: "http"}))
	assert.True(t, httpProtocol(&config.TelemetryConfig{Protocol: "http/protobuf"}))
	assert.False(t, httpProtocol(&config.TelemetryConfig{Protocol: "grpc"}))
	assert.False(t, httpProtocol(&config.TelemetryConfig{}))
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "collector:4318", stripScheme("https://collector:4318"))
	assert.Equal(t, "collector:4318", stripScheme("http://collector:4318"))
	assert.Equal(t, "collector:4318", stripScheme("collector:4318"))
}
