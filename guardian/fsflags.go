package guardian

import "os"

const osAppendFlags = os.O_APPEND | os.O_CREATE | os.O_WRONLY
