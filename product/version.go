package product

// Name 产品名
const Name = "Pixia"

// Version 版本号
const Version = "0.3.1"

// VersionID 配置文件版本 ID
const VersionID = 3
