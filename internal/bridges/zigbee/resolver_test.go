package zigbee

import (
	"context"
	"errors"
	"testing"
)

func TestEndpointResolver_Enumerate(t *testing.T) {
	conn := NewMockConnector()
	r := NewEndpointResolver(conn, 0, nil)

	if err := r.Enumerate(context.Background(), testNWK); err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}
	if conn.MatchRequests(testNWK) != 1 || conn.ActiveRequests(testNWK) != 1 {
		t.Errorf("requests = match %d, active %d; want one each",
			conn.MatchRequests(testNWK), conn.ActiveRequests(testNWK))
	}
}

func TestEndpointResolver_EnumeratePartialFailure(t *testing.T) {
	conn := NewMockConnector()
	conn.SetEnumerationErrors(ErrTimeout, nil)
	r := NewEndpointResolver(conn, 0, nil)

	if err := r.Enumerate(context.Background(), testNWK); err != nil {
		t.Errorf("Enumerate() error = %v, want nil when one request succeeds", err)
	}
}

func TestEndpointResolver_EnumerateBothFail(t *testing.T) {
	conn := NewMockConnector()
	conn.SetEnumerationErrors(ErrTimeout, ErrRequestFailed)
	r := NewEndpointResolver(conn, 0, nil)

	err := r.Enumerate(context.Background(), testNWK)
	if !errors.Is(err, ErrDiscoveryTimeout) {
		t.Fatalf("Enumerate() error = %v, want ErrDiscoveryTimeout", err)
	}
	if !errors.Is(err, ErrTimeout) || !errors.Is(err, ErrRequestFailed) {
		t.Errorf("error = %v, want both causes joined", err)
	}
}

func TestEndpointResolver_Describe(t *testing.T) {
	conn := NewMockConnector()
	conn.AddEndpoint(testNWK, 1, ClusterBasic, ClusterOnOff, 0xFC00)
	conn.SetBasic(testNWK, 1, "Acme", "Switch1")
	r := NewEndpointResolver(conn, 0, nil)

	info, err := r.Describe(context.Background(), testIEEE, testNWK, 1)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if info.Endpoint != 1 || info.ProfileID != ProfileHomeAutomation {
		t.Errorf("info = %+v", info)
	}
	if !info.HasClusters() || len(info.Clusters) != 3 {
		t.Fatalf("clusters = %+v", info.Clusters)
	}
	if info.Clusters[1].Name != ClusterNameOnOff || info.Clusters[2].Name != "Unknown(0xfc00)" {
		t.Errorf("cluster names = %s, %s", info.Clusters[1].Name, info.Clusters[2].Name)
	}
	if info.Basic != (BasicInfo{Manufacturer: "Acme", Model: "Switch1"}) {
		t.Errorf("Basic = %+v", info.Basic)
	}
	if info.BasicErr != nil {
		t.Errorf("BasicErr = %v", info.BasicErr)
	}
}

func TestEndpointResolver_DescribeWithoutBasic(t *testing.T) {
	conn := NewMockConnector()
	conn.AddEndpoint(testNWK, 3, ClusterIASZone)
	r := NewEndpointResolver(conn, 0, nil)

	info, err := r.Describe(context.Background(), testIEEE, testNWK, 3)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if info.Basic != (BasicInfo{}) || info.BasicErr != nil {
		t.Errorf("info = %+v, want empty identity and no error", info)
	}
	if conn.Reads() != 0 {
		t.Errorf("Reads() = %d, want no attribute reads without a Basic cluster", conn.Reads())
	}
}

func TestEndpointResolver_DescribeBasicReadFails(t *testing.T) {
	conn := NewMockConnector()
	conn.AddEndpoint(testNWK, 1, ClusterBasic, ClusterOnOff)
	conn.SetReadError(ErrTimeout)
	r := NewEndpointResolver(conn, 0, nil)

	info, err := r.Describe(context.Background(), testIEEE, testNWK, 1)
	if err != nil {
		t.Fatalf("Describe() error = %v, want nil", err)
	}
	if !errors.Is(info.BasicErr, ErrAttributeRead) {
		t.Errorf("BasicErr = %v, want ErrAttributeRead", info.BasicErr)
	}
	if info.Basic.DeviceName() != "[unknown model]" {
		t.Errorf("DeviceName() = %q", info.Basic.DeviceName())
	}
}

func TestEndpointResolver_DescribeNoDescriptor(t *testing.T) {
	conn := NewMockConnector()
	r := NewEndpointResolver(conn, 0, nil)

	if _, err := r.Describe(context.Background(), testIEEE, testNWK, 9); !errors.Is(err, ErrTimeout) {
		t.Errorf("Describe() error = %v, want ErrTimeout", err)
	}
}
