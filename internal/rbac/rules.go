package rbac

// Platform-level policy. Course-level rights (who may grade, who is enrolled)
// are enforced against enrollment rows inside the stores; this map only gates
// which endpoints a role may reach at all.
var RolePermissions = map[string][]string{
	"student": {
		"course:view",
		"attempt:start",
		"attempt:submit",
		"attempt:view-own",
		"gradebook:view-own",
	},
	"instructor": {
		"course:create",
		"course:view",
		"enrollment:manage",
		"test:create",
		"test:publish",
		"attempt:view-all",
		"gradebook:view",
		"gradebook:recompute",
		"events:view",
	},
	"admin": {
		"*", // everything, including the enrollment-check override
	},
}
