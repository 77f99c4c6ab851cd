// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package services supervises the user-facing workload processes on the
appliance.

Service unit files are YAML documents discovered under a configured
directory. Each unit names a command to run, an optional `when:`
condition deciding whether it applies to this machine, and a restart
policy. The supervisor launches matching units, registers each running
process in the process directory as a user record, and restarts them
per policy until a power-down drain begins.

During a shutdown transition the power task terminates services through
the directory; the supervisor's stop hook signals the service's process
group and escalates to SIGKILL after the grace period. Restarts are
suppressed once shutdown has been authorized.
*/
package services
