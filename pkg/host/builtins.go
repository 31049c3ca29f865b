package host

import (
	"github.com/armatureio/armature/pkg/component"
	"github.com/armatureio/armature/pkg/components/audit"
	"github.com/armatureio/armature/pkg/components/requestid"
	"github.com/armatureio/armature/pkg/components/throttle"
	"github.com/armatureio/armature/pkg/isolation"
)

// RegisterBuiltins installs the entry points of the built-in components into
// the loader's shared side. A manifest opts into each one by module name.
func RegisterBuiltins(loader *isolation.FactoryLoader) {
	loader.RegisterShared(requestid.ModuleName, func() component.Component { return requestid.New() })
	loader.RegisterShared(audit.ModuleName, func() component.Component { return audit.New() })
	loader.RegisterShared(throttle.ModuleName, func() component.Component { return throttle.New() })
}
