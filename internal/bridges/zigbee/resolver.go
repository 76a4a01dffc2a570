package zigbee

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// EndpointInfo is a resolved endpoint: its input clusters and the identity
// read from its Basic cluster.
type EndpointInfo struct {
	Endpoint  uint8
	ProfileID uint16
	DeviceID  uint16
	Clusters  []ClusterDef
	Basic     BasicInfo

	// BasicErr records why Basic is empty, if it was present but unreadable.
	BasicErr error
}

// HasClusters reports whether the endpoint exposes any input cluster.
func (e EndpointInfo) HasClusters() bool {
	return len(e.Clusters) > 0
}

// EndpointResolver enumerates a node's endpoints and describes each one.
//
// Enumeration only sends the requests: endpoint ids come back as
// asynchronous notifications (Handlers.OnEndpoint), in any order and
// possibly more than once.
type EndpointResolver struct {
	conn    Connector
	profile uint16
	logger  Logger
}

// NewEndpointResolver creates a resolver. profile filters the match request;
// zero means Home Automation.
func NewEndpointResolver(conn Connector, profile uint16, logger Logger) *EndpointResolver {
	if profile == 0 {
		profile = ProfileHomeAutomation
	}
	return &EndpointResolver{conn: conn, profile: profile, logger: logger}
}

// Enumerate sends the profile-match and active-endpoint requests for a node
// concurrently.
//
// Returns:
//   - error: ErrDiscoveryTimeout wrapping the failures when both requests
//     fail; nil when at least one was accepted
func (r *EndpointResolver) Enumerate(ctx context.Context, nwk NetworkAddress) error {
	var matchErr, activeErr error
	var g errgroup.Group

	g.Go(func() error {
		matchErr = r.conn.MatchEndpoints(ctx, nwk, r.profile)
		return nil
	})
	g.Go(func() error {
		activeErr = r.conn.ActiveEndpoints(ctx, nwk)
		return nil
	})
	_ = g.Wait()

	switch {
	case matchErr != nil && activeErr != nil:
		return fmt.Errorf("%w: %s: %w", ErrDiscoveryTimeout, nwk, errors.Join(matchErr, activeErr))
	case matchErr != nil:
		r.logDebug("match descriptor request failed", "nwk", nwk.String(), "error", matchErr)
	case activeErr != nil:
		r.logDebug("active endpoint request failed", "nwk", nwk.String(), "error", activeErr)
	}
	return nil
}

// Describe fetches an endpoint's input clusters and reads the Basic
// cluster's ManufacturerName and ModelIdentifier.
//
// A failed Basic read is not an error: the identity is left empty and
// BasicErr records the cause.
//
// Returns:
//   - EndpointInfo: The resolved endpoint
//   - error: If the cluster list could not be fetched
func (r *EndpointResolver) Describe(ctx context.Context, node IEEEAddress, nwk NetworkAddress, endpoint uint8) (EndpointInfo, error) {
	desc, err := r.conn.SimpleDescriptor(ctx, nwk, endpoint)
	if err != nil {
		return EndpointInfo{}, fmt.Errorf("input clusters of %s/%d: %w", node, endpoint, err)
	}

	info := EndpointInfo{
		Endpoint:  endpoint,
		ProfileID: desc.ProfileID,
		DeviceID:  desc.DeviceID,
		Clusters:  make([]ClusterDef, 0, len(desc.InputClusters)),
	}
	for _, id := range desc.InputClusters {
		info.Clusters = append(info.Clusters, LookupCluster(id))
	}

	basic, ok := findCluster(info.Clusters, ClusterNameBasic)
	if !ok {
		r.logDebug("endpoint has no Basic cluster", "node", node.String(), "endpoint", endpoint)
		return info, nil
	}

	bc := NewBoundCluster(r.conn, node, endpoint, basic, func() NetworkAddress { return nwk })
	values, err := bc.ReadAttributes(ctx, "ManufacturerName", "ModelIdentifier")
	if err != nil {
		info.BasicErr = err
		r.logWarn("basic attribute read failed", "node", node.String(), "endpoint", endpoint, "error", err)
		return info, nil
	}
	info.Basic.Manufacturer, _ = values["ManufacturerName"].(string)
	info.Basic.Model, _ = values["ModelIdentifier"].(string)
	return info, nil
}

func findCluster(clusters []ClusterDef, name string) (ClusterDef, bool) {
	for _, c := range clusters {
		if c.Name == name {
			return c, true
		}
	}
	return ClusterDef{}, false
}

func (r *EndpointResolver) logDebug(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, keysAndValues...)
	}
}

func (r *EndpointResolver) logWarn(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, keysAndValues...)
	}
}
