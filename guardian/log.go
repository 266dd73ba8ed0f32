package guardian

import "github.com/sirupsen/logrus"

var log = logrus.WithField("component", "guardian")
