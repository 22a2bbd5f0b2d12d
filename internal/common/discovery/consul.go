package discovery

import (
	"fmt"

	"github.com/hashicorp/consul/api"
)

// NewConsulClient connects to the Consul agent.
func NewConsulClient(host string, port int) (*api.Client, error) {
	client, err := api.NewClient(&api.Config{
		Address: fmt.Sprintf("%s:%d", host, port),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	return client, nil
}

// ServiceRegistry registers this instance in Consul with a gRPC health check.
type ServiceRegistry struct {
	client    *api.Client
	serviceID string
	name      string
	host      string
	port      int
	tags      []string
}

// NewServiceRegistry builds a registry entry for one service instance.
func NewServiceRegistry(client *api.Client, serviceID, name, host string, port int, tags []string) *ServiceRegistry {
	return &ServiceRegistry{
		client:    client,
		serviceID: serviceID,
		name:      name,
		host:      host,
		port:      port,
		tags:      tags,
	}
}

// Register announces the service to Consul. The gRPC check probes the
// standard health service.
func (r *ServiceRegistry) Register() error {
	if r == nil || r.client == nil {
		return fmt.Errorf("consul client is nil")
	}

	reg := &api.AgentServiceRegistration{
		ID:      r.serviceID,
		Name:    r.name,
		Address: r.host,
		Port:    r.port,
		Tags:    r.tags,
		Check: &api.AgentServiceCheck{
			GRPC:                           fmt.Sprintf("%s:%d", r.host, r.port),
			Interval:                       "10s",
			Timeout:                        "3s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}
	return r.client.Agent().ServiceRegister(reg)
}

// Deregister removes the service instance from Consul.
func (r *ServiceRegistry) Deregister() error {
	if r == nil || r.client == nil {
		return fmt.Errorf("consul client is nil")
	}
	return r.client.Agent().ServiceDeregister(r.serviceID)
}
