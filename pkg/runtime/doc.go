/*
Package runtime encapsulates all interaction with the local container
engine behind the Runtime interface.

Two container phases exist per run. The build phase is a one-shot
container that fetches dependencies and compiles; it needs registry access,
so it runs with bridge networking and a read-write workspace mount. The
runtime phase executes generated code, so it is attached to the isolation
network only, mounts the workspace read-only, drops all capabilities, and
sets no-new-privileges. Resource caps (memory, CPU, pids) are fixed by the
orchestrator and not negotiable by models.

DockerRuntime is the production implementation over the Docker engine
socket. Fake is a deterministic in-memory substitute used by the lifecycle
engine tests.

Containers are named build-<runId> / run-<runId> and labeled with the run
identifier so that ReapStale can remove leftovers after a daemon crash.
*/
package runtime
