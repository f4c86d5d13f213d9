package netclient

// Status is the NetworkStatus tagged enum of spec.md §3.
type Status int

const (
	Ok Status = iota
	Forbidden
	ConnectionIssues
	BrokenServer
	// BrokenClient never comes out of the raw-code mapping table in §4.5;
	// it is produced by the API layer (spec.md §4.7/§7) for contract
	// violations this client cannot express as a transport outcome. It is
	// declared here, not in apiclient, so both packages share one enum.
	BrokenClient
)

func (s Status) String() string {
	switch s {
	case Ok:
		return "Ok"
	case Forbidden:
		return "Forbidden"
	case ConnectionIssues:
		return "ConnectionIssues"
	case BrokenServer:
		return "BrokenServer"
	case BrokenClient:
		return "BrokenClient"
	default:
		return "Unknown"
	}
}

// Response is the result of a successful (in the transport sense) request.
type Response struct {
	Status  Status
	Payload []byte
}
