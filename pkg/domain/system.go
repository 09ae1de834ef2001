package domain

// System is one registered external rating or enrichment system. Systems
// without a base URL, or flagged Mock, are routed to the in-process
// simulator instead of the network.
type System struct {
	Code      string            `yaml:"code"`
	Name      string            `yaml:"name"`
	BaseURL   string            `yaml:"base_url"`
	Mock      bool              `yaml:"mock"`
	TimeoutMS int               `yaml:"timeout_ms"`
	Headers   map[string]string `yaml:"headers"`
}

// Simulated reports whether calls to this system should be served by the
// simulator.
func (s System) Simulated() bool {
	return s.Mock || s.BaseURL == ""
}
