package streamtask

/*
   Copyright 2018 Bruno Moura <brunotm@gmail.com>

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

import "fmt"

// Endpoint is a single network address reaching a node.
type Endpoint struct {
	Fqdn string
	Port uint16
}

// String renders the endpoint as "fqdn:port".
func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Fqdn, e.Port)
}

// EpSet is an ordered list of endpoints reaching a node, with a preferred
// index. EpSet is a plain value type by design (§5, "Shared-resource
// policy"): assignment is field-wise and a reader that races a writer may
// observe a transiently torn value, but the next dispatch attempt will pick
// up the completed update. Callers that need a stable read should copy the
// whole value under the owning lock.
type EpSet struct {
	Eps   []Endpoint
	InUse int
}

// Preferred returns the in-use endpoint, or the zero Endpoint if the set is
// empty or InUse is out of range.
func (e EpSet) Preferred() Endpoint {
	if e.InUse < 0 || e.InUse >= len(e.Eps) {
		return Endpoint{}
	}
	return e.Eps[e.InUse]
}

// Assign replaces the receiver's contents with other's, copying the
// endpoint slice so later mutation of other does not alias this EpSet.
func (e *EpSet) Assign(other EpSet) {
	eps := make([]Endpoint, len(other.Eps))
	copy(eps, other.Eps)
	e.Eps = eps
	e.InUse = other.InUse
}

// String renders the epset for logging, e.g. "[a:1,b:2](1)".
func (e EpSet) String() string {
	s := "["
	for i, ep := range e.Eps {
		if i > 0 {
			s += ","
		}
		s += ep.String()
	}
	return s + fmt.Sprintf("](%d)", e.InUse)
}
