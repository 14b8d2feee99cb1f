package server

import (
	"net/http"

	"github.com/nucypher/nucypher-ops/pkg/deploy"
	"github.com/nucypher/nucypher-ops/pkg/networks"
	"github.com/nucypher/nucypher-ops/pkg/serializer"
)

// handleNetworks handles GET /v1/networks
func (s *Server) handleNetworks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, r, http.StatusMethodNotAllowed,
			ErrCodeMethodNotAllowed, "only GET is supported", false, nil)
		return
	}

	type network struct {
		Name    string `json:"name" yaml:"name"`
		ChainID int    `json:"chainId" yaml:"chainId"`
	}
	resp := make([]network, 0)
	for _, name := range networks.Names() {
		chainID, _ := networks.ChainID(name)
		resp = append(resp, network{Name: name, ChainID: chainID})
	}
	serializer.RespondJSON(w, http.StatusOK, resp)
}

// handleNamespaces handles GET /v1/namespaces?network=<name>
func (s *Server) handleNamespaces(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, r, http.StatusMethodNotAllowed,
			ErrCodeMethodNotAllowed, "only GET is supported", false, nil)
		return
	}

	network := r.URL.Query().Get("network")
	if network == "" {
		WriteError(w, r, http.StatusBadRequest,
			ErrCodeInvalidRequest, "the network query parameter is required", false, nil)
		return
	}

	namespaces, err := s.store.ListNamespaces(network)
	if err != nil {
		WriteStructuredError(w, r, err)
		return
	}
	if namespaces == nil {
		namespaces = []string{}
	}
	serializer.RespondJSON(w, http.StatusOK, namespaces)
}

// handleHosts handles GET /v1/hosts?network=<name>&namespace=<name>
func (s *Server) handleHosts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, r, http.StatusMethodNotAllowed,
			ErrCodeMethodNotAllowed, "only GET is supported", false, nil)
		return
	}

	network := r.URL.Query().Get("network")
	namespace := r.URL.Query().Get("namespace")
	if network == "" || namespace == "" {
		WriteError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest,
			"the network and namespace query parameters are required", false, nil)
		return
	}

	cfg, err := s.store.Load(network, namespace)
	if err != nil {
		WriteStructuredError(w, r, err)
		return
	}

	// Instance records hold no secrets; the namespace passwords stay in
	// the config file.
	type host struct {
		Name string `json:"name" yaml:"name"`
		*deploy.InstanceData
	}
	hosts := make([]host, 0, len(cfg.Instances))
	for _, name := range cfg.HostNames() {
		hosts = append(hosts, host{Name: name, InstanceData: cfg.Instances[name]})
	}
	serializer.RespondJSON(w, http.StatusOK, hosts)
}
