package rate

func loginIPKey(ip string) string { return "ali:" + ip }

func mfaIssueKey(userID string) string { return "ami:" + userID }
