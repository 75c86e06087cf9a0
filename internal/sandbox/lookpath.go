package sandbox

import "os/exec"

// lookPath is replaced in tests.
var lookPath = exec.LookPath
