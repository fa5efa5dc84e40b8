package core

import "fmt"

type PolicyViolationCode string

const (
	ViolationPluginNotAllowed PolicyViolationCode = "plugin_not_allowed"
	ViolationPathForbidden    PolicyViolationCode = "path_policy_forbidden"
	ViolationPathEmpty        PolicyViolationCode = "path_policy_empty"
)

type PolicyViolation struct {
	Code    PolicyViolationCode `json:"code"`
	Subject string              `json:"subject"`
	Reason  string              `json:"reason"`
}

func (v *PolicyViolation) Error() string {
	return fmt.Sprintf("%s: %s (%s)", v.Code, v.Subject, v.Reason)
}

func (v *PolicyViolation) ErrorCode() string { return string(v.Code) }
