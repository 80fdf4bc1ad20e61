package product

import (
	"runtime"
	"strings"
)

// UserAgentTemplate UA 字符串模板
const UserAgentTemplate = "{name}/{version} ({system} {sysArch}) Go/{goVersion}"

// UserAgent UA 字符串
var UserAgent = strings.NewReplacer(
	"{name}", Name,
	"{version}", Version,
	"{system}", runtime.GOOS,
	"{sysArch}", runtime.GOARCH,
	"{goVersion}", runtime.Version(),
).Replace(UserAgentTemplate)
