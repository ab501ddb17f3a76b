// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package simenv

import (
	"github.com/bureau-foundation/winsync/lib/remote"
)

// Operation names an Environment method for fault matching.
type Operation string

const (
	OpRead                 Operation = "read"
	OpReadMany             Operation = "read_many"
	OpWrite                Operation = "write"
	OpRunningApplications  Operation = "running_applications"
	OpApplicationHandle    Operation = "application_handle"
	OpFrontmostApplication Operation = "frontmost_application"
	OpScreens              Operation = "screens"
	OpObserve              Operation = "observe"
	OpSubscribe            Operation = "subscribe"
)

// Fault makes matching calls fail with Err. Zero fields match
// anything. ReadMany consults OpRead faults per attribute and omits
// the attributes they match, the way a helper omits attributes it
// cannot read.
type Fault struct {
	Operation Operation
	Handle    remote.Handle
	Attribute remote.Attribute
	Err       error

	// Times limits how many calls fail. Zero means until cleared.
	Times int
}

// InjectFault adds fault. Faults are matched in insertion order.
func (e *Environment) InjectFault(fault Fault) {
	e.mu.Lock()
	defer e.mu.Unlock()
	injected := fault
	e.faults = append(e.faults, &injected)
}

// ClearFaults removes every injected fault.
func (e *Environment) ClearFaults() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faults = nil
}

func (e *Environment) faultLocked(operation Operation, handle remote.Handle, name remote.Attribute) error {
	for index, fault := range e.faults {
		if fault.Operation != "" && fault.Operation != operation {
			continue
		}
		if fault.Handle != 0 && fault.Handle != handle {
			continue
		}
		if fault.Attribute != "" && fault.Attribute != name {
			continue
		}
		if fault.Times > 0 {
			e.faults[index].Times--
			if e.faults[index].Times == 0 {
				e.faults = append(e.faults[:index:index], e.faults[index+1:]...)
			}
		}
		return fault.Err
	}
	return nil
}
