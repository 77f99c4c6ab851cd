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
Package proc maintains the supervisor-local process directory.

Every supervised child process and internal goroutine task is tracked as
a directory record with its own local PID. Record 1 is always the
supervisor itself; the finalizer registers next. Records move from alive
to dying when termination is requested and are reaped to dead by the
finalizer once their runtime confirms exit.

Protected records (the supervisor and the finalizer) refuse termination
requests until AuthorizeShutdown is called. The power transition task
authorizes exactly once, drains everything else, and retires the
finalizer last so finalize hooks run after all other records are gone.
*/
package proc
