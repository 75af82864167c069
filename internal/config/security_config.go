// config/security_config.go
package config

type SecurityLevel int

const (
	SecurityPublic SecurityLevel = iota // No authentication
	SecurityMember                      // Any valid access token
	SecurityStaff                       // Access token with role Staff
)

const circulationService = "/library.circulation.v1.CirculationService/"

// EndpointSecurityConfig maps methods to their required security level
var EndpointSecurityConfig = map[string]SecurityLevel{
	// Reads
	circulationService + "ListBooks":        SecurityMember,
	circulationService + "GetBook":          SecurityMember,
	circulationService + "ListUsers":        SecurityMember,
	circulationService + "GetUser":          SecurityMember,
	circulationService + "ListTransactions": SecurityMember,
	circulationService + "GetTransaction":   SecurityMember,
	circulationService + "GetReports":       SecurityMember,
	circulationService + "Subscribe":        SecurityMember,

	// Circulation
	circulationService + "Borrow": SecurityMember,
	circulationService + "Return": SecurityMember,

	// Inventory and user management
	circulationService + "CreateBook": SecurityStaff,
	circulationService + "UpdateBook": SecurityStaff,
	circulationService + "DeleteBook": SecurityStaff,
	circulationService + "CreateUser": SecurityStaff,

	// Health
	"/grpc.health.v1.Health/Check": SecurityPublic,
}

// GetSecurityLevel returns the security level for a given method.
// Unknown methods require staff access.
func GetSecurityLevel(method string) SecurityLevel {
	if level, ok := EndpointSecurityConfig[method]; ok {
		return level
	}
	return SecurityStaff
}
